package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/ytcampaigns/internal/config"
	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxconfig"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/ctxvideostats"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/queuenames"
	"fknsrs.biz/p/ytcampaigns/internal/schedule"
	"fknsrs.biz/p/ytcampaigns/internal/schema/schematest"
	"fknsrs.biz/p/ytcampaigns/internal/timeutil"
	"fknsrs.biz/p/ytcampaigns/internal/videostats"
	"fknsrs.biz/p/ytcampaigns/internal/ytapi"
	"fknsrs.biz/p/ytcampaigns/models"
)

func init() {
	sorm.SetParameterPrefix("?")
}

type fixture struct {
	ctx    context.Context
	db     *sql.DB
	clock  *ctxclock.TestClock
	worker *jobqueue.Worker
	source *videostats.Static
}

func newFixture(t *testing.T, scheduler *schedule.Scheduler) *fixture {
	f := &fixture{
		db:     schematest.OpenDB(t),
		clock:  ctxclock.NewTestClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		worker: jobqueue.NewWorker(nil),
		source: &videostats.Static{Videos: map[string]*videostats.Video{}},
	}

	if err := Register(f.worker, scheduler); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	ctx = ctxdb.WithDB(ctx, f.db)
	ctx = ctxclock.WithClock(ctx, f.clock)
	ctx = ctxjobqueue.WithWorker(ctx, f.worker)
	ctx = ctxvideostats.WithSource(ctx, f.source)
	ctx = ctxconfig.WithConfig(ctx, config.Config{CampaignCheckDelay: timeutil.DayTimeDuration(time.Hour)})
	f.ctx = ctx

	return f
}

func (f *fixture) campaign(t *testing.T, videoID string) models.Campaign {
	t.Helper()

	var creator models.Creator
	if err := sorm.FindFirstWhere(f.ctx, f.db, &creator, "where channel_id = ?", "UCjobs"); err != nil {
		creator = models.Creator{CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(), Name: "Jobs", ChannelID: "UCjobs", Status: models.CreatorStatusSelected}
		f.create(t, &creator)
	}

	c := models.Campaign{
		CreatedAt:  f.clock.Now(),
		UpdatedAt:  f.clock.Now(),
		CreatorID:  creator.ID,
		VideoID:    videoID,
		Title:      videoID,
		WentLiveAt: f.clock.Now(),
	}
	f.create(t, &c)

	return c
}

func (f *fixture) create(t *testing.T, v interface{}) {
	t.Helper()

	if err := ctxdb.UsingTx(f.ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return sorm.CreateRecord(ctx, tx, v)
	}); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) send(t *testing.T, name string, data interface{}) *jobqueue.Job {
	t.Helper()

	var job *jobqueue.Job
	if err := ctxdb.UsingTx(f.ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		j, err := ctxjobqueue.Send(ctx, tx, name, data)
		job = j
		return err
	}); err != nil {
		t.Fatal(err)
	}

	return job
}

func (f *fixture) run(t *testing.T, id int, out interface{}) *jobqueue.Job {
	t.Helper()

	didRun, err := f.worker.RunOnce(f.ctx)
	if err != nil || !didRun {
		t.Fatalf("expected a job to run: %v", err)
	}

	job, err := jobqueue.Find(f.ctx, f.db, id)
	if err != nil {
		t.Fatal(err)
	}

	if out != nil {
		if err := json.Unmarshal([]byte(job.LastOutput()), out); err != nil {
			t.Fatalf("could not decode output %q: %v", job.LastOutput(), err)
		}
	}

	return job
}

func TestCollectWeeklyVideoMetrics(t *testing.T) {
	a := assert.New(t)

	f := newFixture(t, nil)

	ok1 := f.campaign(t, "aaaaaaaaaaa")
	ok2 := f.campaign(t, "bbbbbbbbbbb")
	missing := f.campaign(t, "ccccccccccc")
	f.source.Videos["aaaaaaaaaaa"] = &videostats.Video{ID: "aaaaaaaaaaa", ViewCount: 10, CommentCount: 1}
	f.source.Videos["bbbbbbbbbbb"] = &videostats.Video{ID: "bbbbbbbbbbb", ViewCount: 20}

	var job *jobqueue.Job
	a.NoError(ctxdb.UsingTx(f.ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		j, alreadyQueued, err := EnqueueCollection(ctx, tx, f.clock.Now(), true)
		a.False(alreadyQueued)
		job = j
		return err
	}))

	a.NoError(ctxdb.UsingTx(f.ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		j, alreadyQueued, err := EnqueueCollection(ctx, tx, f.clock.Now(), false)
		a.True(alreadyQueued)
		if a.NotNil(j) {
			a.Equal(job.ID, j.ID)
		}
		return err
	}))

	var result CollectResult
	stored := f.run(t, job.ID, &result)
	a.False(stored.Failed())
	a.Equal(3, result.TotalCampaigns)
	a.Equal(2, result.SuccessCount)
	a.Equal(1, result.ErrorCount)
	a.True(result.Manual)
	a.Equal(3, f.source.Calls)

	for _, tc := range []struct {
		campaign models.Campaign
		n        int
	}{{ok1, 1}, {ok2, 1}, {missing, 0}} {
		snapshots, err := models.FindSnapshots(f.ctx, f.db, tc.campaign.ID)
		a.NoError(err)
		a.Len(snapshots, tc.n)
	}

	s, err := schedule.Load(f.ctx, f.db)
	if a.NoError(err) && a.NotNil(s.LastRunAt) {
		a.True(f.clock.Now().Equal(*s.LastRunAt))
	}

	// the finished run frees the unique key
	a.NoError(ctxdb.UsingTx(f.ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		j, alreadyQueued, err := EnqueueCollection(ctx, tx, f.clock.Now(), false)
		a.False(alreadyQueued)
		a.NotEqual(job.ID, j.ID)
		return err
	}))
}

func TestTriggerCollection(t *testing.T) {
	a := assert.New(t)

	f := newFixture(t, nil)

	a.NoError(TriggerCollection(f.ctx))
	a.NoError(TriggerCollection(f.ctx))

	jobs, err := jobqueue.FindPending(f.ctx, f.db, 10)
	if a.NoError(err) && a.Len(jobs, 1) {
		a.Equal(queuenames.CollectWeeklyVideoMetrics, jobs[0].QueueName)
		a.Equal(0, jobs[0].AttemptsRemaining)

		var payload CollectPayload
		a.NoError(jobs[0].DecodePayload(&payload))
		a.False(payload.Manual)
	}
}

func TestCampaignCreatedSchedulesCheck(t *testing.T) {
	a := assert.New(t)

	f := newFixture(t, nil)

	c := f.campaign(t, "aaaaaaaaaaa")
	f.source.Videos["aaaaaaaaaaa"] = &videostats.Video{ID: "aaaaaaaaaaa", ViewCount: 500, CommentCount: 7}

	created := f.send(t, queuenames.CampaignCreated, CampaignCreatedPayload{CampaignID: c.ID, CreatorID: c.CreatorID, VideoID: c.VideoID, Title: c.Title})

	var out struct {
		CampaignID int `json:"campaignId"`
		CheckJobID int `json:"checkJobId"`
	}
	f.run(t, created.ID, &out)
	a.Equal(c.ID, out.CampaignID)
	a.NotZero(out.CheckJobID)

	check, err := jobqueue.Find(f.ctx, f.db, out.CheckJobID)
	if a.NoError(err) {
		a.Equal(queuenames.CampaignCheckAnalytics, check.QueueName)
		a.True(f.clock.Now().Add(time.Hour).Equal(check.RunAfter))
	}

	_, err = f.worker.RunOnce(f.ctx)
	a.True(errors.Is(err, jobqueue.ErrNoPendingJobs))
	a.Equal(0, f.source.Calls)

	f.clock.Advance(time.Hour)

	var result CheckAnalyticsResult
	f.run(t, out.CheckJobID, &result)
	a.Equal(CheckAnalyticsResult{CampaignID: c.ID, Views: 500, Comments: 7, Status: "checked"}, result)

	snapshots, err := models.FindSnapshots(f.ctx, f.db, c.ID)
	if a.NoError(err) && a.Len(snapshots, 1) {
		a.Equal(int64(500), snapshots[0].ViewCount)
	}
}

func TestCampaignCheckAnalyticsMissingCampaign(t *testing.T) {
	a := assert.New(t)

	f := newFixture(t, nil)

	job := f.send(t, queuenames.CampaignCheckAnalytics, CheckAnalyticsPayload{CampaignID: 404})

	var result CheckAnalyticsResult
	stored := f.run(t, job.ID, &result)
	a.False(stored.Failed())
	a.Equal("missing", result.Status)
	a.Equal(0, f.source.Calls)
}

func TestScheduleUpdated(t *testing.T) {
	a := assert.New(t)

	scheduler := schedule.NewScheduler(context.Background(), func(ctx context.Context) error { return nil })
	f := newFixture(t, scheduler)

	s := schedule.Default()
	s.DayOfWeek = 2
	s.Hour = 18
	s.Timezone = "UTC"
	a.NoError(ctxdb.UsingTx(f.ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return schedule.Save(ctx, tx, &s, f.clock.Now())
	}))

	job := f.send(t, queuenames.ScheduleUpdated, schedule.MakeView(s, f.clock.Now()))

	var view schedule.View
	f.run(t, job.ID, &view)
	a.Equal("2", view.DayOfWeek)
	a.Equal("18", view.Hour)
	a.Equal("CRON_TZ=UTC 0 18 * * 2", scheduler.Spec())
}

func TestHello(t *testing.T) {
	for _, tc := range []struct {
		name    string
		payload HelloPayload
		message string
	}{
		{"default", HelloPayload{Email: "a@example.com"}, "Hello World"},
		{"named", HelloPayload{Name: "Ada"}, "Hello Ada"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			f := newFixture(t, nil)

			job := f.send(t, queuenames.TestHello, tc.payload)

			var result HelloResult
			f.run(t, job.ID, &result)
			a.Equal(tc.message, result.Message)
			a.Equal(tc.payload, result.Data)
		})
	}
}

func enqueueCollection(t *testing.T, f *fixture) (*jobqueue.Job, bool) {
	t.Helper()

	var job *jobqueue.Job
	var alreadyQueued bool
	if err := ctxdb.UsingTx(f.ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		j, q, err := EnqueueCollection(ctx, tx, f.clock.Now(), true)
		job, alreadyQueued = j, q
		return err
	}); err != nil {
		t.Fatal(err)
	}

	return job, alreadyQueued
}

func TestCollectionKeepsReservationWhileRunning(t *testing.T) {
	a := assert.New(t)

	f := newFixture(t, nil)

	first := f.campaign(t, "aaaaaaaaaaa")
	second := f.campaign(t, "bbbbbbbbbbb")

	lookups := make(chan string)
	release := make(chan struct{})
	f.ctx = ctxvideostats.WithSource(f.ctx, videostats.SourceFunc(func(ctx context.Context, id string) (*videostats.Video, error) {
		lookups <- id
		<-release
		return &videostats.Video{ID: id, ViewCount: 5}, nil
	}))

	job, alreadyQueued := enqueueCollection(t, f)
	a.False(alreadyQueued)

	done := make(chan error, 1)
	go func() {
		_, err := f.worker.RunOnce(f.ctx)
		done <- err
	}()

	waitFor := func(want string) {
		select {
		case id := <-lookups:
			a.Equal(want, id)
		case <-time.After(time.Second * 10):
			t.Fatalf("no lookup for %s", want)
		}
	}

	waitFor(first.VideoID)

	// a second trigger while the run is in progress joins it
	running, alreadyQueued := enqueueCollection(t, f)
	a.True(alreadyQueued)
	a.Equal(job.ID, running.ID)

	f.clock.Advance(jobqueue.DefaultReserveDuration - time.Minute)
	release <- struct{}{}

	waitFor(second.VideoID)

	// past the first reservation, so only the renewal keeps other runners off
	f.clock.Advance(jobqueue.DefaultReserveDuration - time.Minute)

	didRun, err := f.worker.RunOnce(f.ctx)
	a.False(didRun)
	a.True(errors.Is(err, jobqueue.ErrNoPendingJobs), "%v", err)

	running, alreadyQueued = enqueueCollection(t, f)
	a.True(alreadyQueued)
	a.Equal(job.ID, running.ID)

	release <- struct{}{}

	select {
	case err := <-done:
		a.NoError(err)
	case <-time.After(time.Second * 10):
		t.Fatal("collection did not finish")
	}

	stored, err := jobqueue.Find(f.ctx, f.db, job.ID)
	if a.NoError(err) {
		a.False(stored.Pending())
		a.False(stored.Failed())
		a.Len(stored.OutputMessages, 1)

		var result CollectResult
		a.NoError(json.Unmarshal([]byte(stored.LastOutput()), &result))
		a.Equal(2, result.SuccessCount)
	}

	for _, c := range []models.Campaign{first, second} {
		snapshots, err := models.FindSnapshots(f.ctx, f.db, c.ID)
		a.NoError(err)
		a.Len(snapshots, 1)
	}
}

func TestCollectCountsMissingStatisticsAsErrors(t *testing.T) {
	a := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("content-type", "application/json")

		switch id := r.URL.Query().Get("id"); id {
		case "aaaaaaaaaaa":
			rw.Write([]byte(`{"items":[{"id":"aaaaaaaaaaa","snippet":{"title":"Full"},"statistics":{"viewCount":"40","commentCount":"4"}}]}`))
		default:
			rw.Write([]byte(`{"items":[{"id":"` + id + `","snippet":{"title":"Private numbers"}}]}`))
		}
	}))
	defer srv.Close()

	f := newFixture(t, nil)
	f.ctx = ctxvideostats.WithSource(f.ctx, ytapi.NewClient("test-key", srv.URL))

	full := f.campaign(t, "aaaaaaaaaaa")
	private := f.campaign(t, "bbbbbbbbbbb")

	job, _ := enqueueCollection(t, f)

	var result CollectResult
	f.run(t, job.ID, &result)
	a.Equal(2, result.TotalCampaigns)
	a.Equal(1, result.SuccessCount)
	a.Equal(1, result.ErrorCount)

	snapshots, err := models.FindSnapshots(f.ctx, f.db, full.ID)
	if a.NoError(err) && a.Len(snapshots, 1) {
		a.Equal(int64(40), snapshots[0].ViewCount)
		a.Equal(int64(4), snapshots[0].CommentCount)
	}

	snapshots, err = models.FindSnapshots(f.ctx, f.db, private.ID)
	a.NoError(err)
	a.Len(snapshots, 0)
}
