package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/negroni/v2"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/ctxvideostats"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/queuenames"
	"fknsrs.biz/p/ytcampaigns/internal/schema/schematest"
	"fknsrs.biz/p/ytcampaigns/internal/videostats"
	"fknsrs.biz/p/ytcampaigns/jobs"
	"fknsrs.biz/p/ytcampaigns/models"
)

func init() {
	sorm.SetParameterPrefix("?")
}

var testTime = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

type testServer struct {
	h      http.Handler
	db     *sql.DB
	clock  *ctxclock.TestClock
	worker *jobqueue.Worker
	source *videostats.Static
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithDB(t, schematest.OpenDB(t))
}

func newTestServerWithDB(t *testing.T, db *sql.DB) *testServer {
	w := jobqueue.NewWorker(nil)
	if err := jobs.Register(w, nil); err != nil {
		t.Fatal(err)
	}

	published := time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC)

	s := &testServer{
		db:     db,
		clock:  ctxclock.NewTestClock(testTime),
		worker: w,
		source: &videostats.Static{Videos: map[string]*videostats.Video{
			"dQw4w9WgXcQ": {ID: "dQw4w9WgXcQ", Title: "Launch video", Description: "All about it", PublishedAt: &published, ViewCount: 1000, CommentCount: 10},
			"abcdefghijk": {ID: "abcdefghijk", ViewCount: 5},
		}},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	n := negroni.New()
	n.UseFunc(ctxlogger.Register(logger))
	n.UseFunc(ctxclock.Register(s.clock))
	n.UseFunc(ctxdb.Register(db))
	n.UseFunc(ctxjobqueue.Register(w))
	n.UseFunc(ctxvideostats.Register(s.source))
	n.UseFunc(ctxlogger.Log())
	n.UseHandler(Router())

	s.h = n

	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var r io.Reader
	contentType := "application/json"

	switch body := body.(type) {
	case nil:
	case url.Values:
		r = strings.NewReader(body.Encode())
		contentType = "application/x-www-form-urlencoded"
	case string:
		r = strings.NewReader(body)
	default:
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("content-type", contentType)
	}

	rw := httptest.NewRecorder()
	s.h.ServeHTTP(rw, req)

	if out != nil {
		if err := json.Unmarshal(rw.Body.Bytes(), out); err != nil {
			t.Fatalf("could not decode response %q: %v", rw.Body.String(), err)
		}
	}

	return rw.Code
}

func (s *testServer) jobContext() context.Context {
	ctx := context.Background()
	ctx = ctxdb.WithDB(ctx, s.db)
	ctx = ctxclock.WithClock(ctx, s.clock)
	ctx = ctxjobqueue.WithWorker(ctx, s.worker)
	ctx = ctxvideostats.WithSource(ctx, s.source)

	return ctx
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *testServer) createCreator(t *testing.T, name, channelID string) models.Creator {
	t.Helper()

	var c models.Creator
	if code := s.do(t, http.MethodPost, "/creators", map[string]string{"name": name, "channelId": channelID}, &c); code != http.StatusCreated {
		t.Fatalf("expected 201 creating creator, got %d", code)
	}

	return c
}

func TestCreateCreator(t *testing.T) {
	for _, tc := range []struct {
		name   string
		body   interface{}
		status int
		error  string
		check  func(a *assert.Assertions, c models.Creator)
	}{
		{
			name:   "defaults",
			body:   map[string]string{"name": "Tech Reviews Pro", "channelId": "UCtech123456789", "email": ""},
			status: http.StatusCreated,
			check: func(a *assert.Assertions, c models.Creator) {
				a.NotZero(c.ID)
				a.Equal(models.CreatorStatusSelected, c.Status)
				a.Nil(c.Email)
				a.True(testTime.Equal(c.CreatedAt))
			},
		},
		{
			name:   "channel url",
			body:   map[string]string{"name": "Gaming", "channelId": "https://www.youtube.com/channel/UCgaming987654321", "status": "PITCHED", "email": "g@example.com"},
			status: http.StatusCreated,
			check: func(a *assert.Assertions, c models.Creator) {
				a.Equal("UCgaming987654321", c.ChannelID)
				a.Equal(models.CreatorStatusPitched, c.Status)
				if a.NotNil(c.Email) {
					a.Equal("g@example.com", *c.Email)
				}
			},
		},
		{
			name:   "form",
			body:   url.Values{"name": {"Form"}, "channelId": {"UCform"}, "pitchNotes": {"likes gadgets"}},
			status: http.StatusCreated,
			check: func(a *assert.Assertions, c models.Creator) {
				a.Equal("Form", c.Name)
				if a.NotNil(c.PitchNotes) {
					a.Equal("likes gadgets", *c.PitchNotes)
				}
			},
		},
		{name: "missing name", body: map[string]string{"channelId": "UCx"}, status: http.StatusBadRequest, error: "Name and channel ID are required"},
		{name: "blank channel", body: map[string]string{"name": "x", "channelId": "  "}, status: http.StatusBadRequest, error: "Name and channel ID are required"},
		{name: "bad status", body: map[string]string{"name": "x", "channelId": "UCx", "status": "FAMOUS"}, status: http.StatusBadRequest},
		{name: "bad json", body: `{"name":`, status: http.StatusBadRequest, error: "Invalid JSON body"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			s := newTestServer(t)

			if tc.check != nil {
				var c models.Creator
				a.Equal(tc.status, s.do(t, http.MethodPost, "/creators", tc.body, &c))
				tc.check(a, c)
				return
			}

			var e errorResponse
			a.Equal(tc.status, s.do(t, http.MethodPost, "/creators", tc.body, &e))
			if tc.error != "" {
				a.Equal(tc.error, e.Error)
			} else {
				a.NotEmpty(e.Error)
			}
		})
	}
}

func TestCreateCreatorRetriesWhileDatabaseLocked(t *testing.T) {
	a := assert.New(t)

	db := schematest.OpenDB(t)

	var path string
	if err := db.QueryRow("select file from pragma_database_list where name = 'main'").Scan(&path); err != nil {
		t.Fatal(err)
	}

	// a second handle that reports busy instead of waiting for the lock
	noWait, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { noWait.Close() })

	s := newTestServerWithDB(t, noWait)

	locker, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := locker.Exec(
		"insert into creators (created_at, updated_at, name, channel_id, status) values (?, ?, ?, ?, ?)",
		testTime, testTime, "Locker", "UClocker", models.CreatorStatusSelected,
	); err != nil {
		t.Fatal(err)
	}

	released := make(chan error, 1)
	time.AfterFunc(time.Millisecond*25, func() { released <- locker.Commit() })

	var created models.Creator
	a.Equal(http.StatusCreated, s.do(t, http.MethodPost, "/creators", map[string]interface{}{
		"name":      "Retried",
		"channelId": "UCretried",
	}, &created))
	a.NotZero(created.ID)
	a.NoError(<-released)

	var list []models.Creator
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/creators", nil, &list))
	a.Len(list, 2)
}

func TestCreatorDuplicateChannel(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	first := s.createCreator(t, "One", "UCone")
	second := s.createCreator(t, "Two", "UCtwo")

	var e errorResponse
	a.Equal(http.StatusConflict, s.do(t, http.MethodPost, "/creators", map[string]string{"name": "Again", "channelId": "UCone"}, &e))
	a.Equal("A creator with this channel ID already exists", e.Error)

	e = errorResponse{}
	a.Equal(http.StatusConflict, s.do(t, http.MethodPut, "/creators/"+itoa(second.ID), map[string]string{"channelId": "UCone"}, &e))
	a.Equal("A creator with this channel ID already exists", e.Error)

	// keeping its own channel id is fine
	var c models.Creator
	a.Equal(http.StatusOK, s.do(t, http.MethodPut, "/creators/"+itoa(first.ID), map[string]string{"channelId": "UCone", "name": "Renamed"}, &c))
	a.Equal("Renamed", c.Name)
}

func TestCreatorLifecycle(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	first := s.createCreator(t, "First", "UCfirst")
	s.clock.Advance(time.Minute)
	second := s.createCreator(t, "Second", "UCsecond")

	var list []models.Creator
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/creators", nil, &list))
	if a.Len(list, 2) {
		a.Equal(second.ID, list[0].ID)
		a.Equal(first.ID, list[1].ID)
	}

	var e errorResponse
	a.Equal(http.StatusNotFound, s.do(t, http.MethodGet, "/creators/999", nil, &e))
	a.Equal("Creator not found", e.Error)
	a.Equal(http.StatusNotFound, s.do(t, http.MethodGet, "/creators/abc", nil, nil))
	a.Equal(http.StatusNotFound, s.do(t, http.MethodPut, "/creators/999", map[string]string{"name": "x"}, nil))

	var updated models.Creator
	a.Equal(http.StatusOK, s.do(t, http.MethodPut, "/creators/"+itoa(first.ID), map[string]interface{}{
		"name":       "",
		"email":      "first@example.com",
		"status":     "AGREEMENT",
		"pitchNotes": "call back",
		"createdAt":  "2000-01-01T00:00:00Z",
	}, &updated))
	a.Equal("First", updated.Name)
	a.Equal(models.CreatorStatusAgreement, updated.Status)
	a.True(first.CreatedAt.Equal(updated.CreatedAt))
	if a.NotNil(updated.Email) && a.NotNil(updated.PitchNotes) {
		a.Equal("first@example.com", *updated.Email)
		a.Equal("call back", *updated.PitchNotes)
	}

	a.Equal(http.StatusOK, s.do(t, http.MethodPut, "/creators/"+itoa(first.ID), map[string]interface{}{"email": ""}, &updated))
	a.Nil(updated.Email)
	a.NotNil(updated.PitchNotes)

	a.Equal(http.StatusBadRequest, s.do(t, http.MethodPut, "/creators/"+itoa(first.ID), map[string]interface{}{"status": "nope"}, nil))

	var details models.CreatorDetails
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/creators/"+itoa(first.ID), nil, &details))
	a.Equal(first.ID, details.ID)
	a.NotNil(details.Campaigns)
	a.Len(details.Campaigns, 0)

	var msg messageResponse
	a.Equal(http.StatusOK, s.do(t, http.MethodDelete, "/creators/"+itoa(second.ID), nil, &msg))
	a.Equal("Creator deleted successfully", msg.Message)
	a.Equal(http.StatusNotFound, s.do(t, http.MethodDelete, "/creators/"+itoa(second.ID), nil, nil))
}

func TestCreatorListQuery(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	s.createCreator(t, "Alpha", "UCa")
	s.do(t, http.MethodPost, "/creators", map[string]string{"name": "Beta", "channelId": "UCb", "status": "PITCHED"}, nil)
	s.createCreator(t, "Gamma", "UCc")

	var list []models.Creator
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/creators?"+url.Values{"$filter": {"status eq 'PITCHED'"}}.Encode(), nil, &list))
	if a.Len(list, 1) {
		a.Equal("Beta", list[0].Name)
	}

	list = nil
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/creators?"+url.Values{"$orderby": {"name asc"}, "$top": {"2"}, "$skip": {"1"}}.Encode(), nil, &list))
	if a.Len(list, 2) {
		a.Equal("Beta", list[0].Name)
		a.Equal("Gamma", list[1].Name)
	}

	a.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/creators?"+url.Values{"$orderby": {"favouriteColour desc"}}.Encode(), nil, nil))
	a.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/creators?"+url.Values{"$filter": {"status eq"}}.Encode(), nil, nil))
}

func TestCreateCampaignUnknownCreator(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	var e errorResponse
	a.Equal(http.StatusNotFound, s.do(t, http.MethodPost, "/campaigns", map[string]interface{}{"videoId": "dQw4w9WgXcQ", "creatorId": 42}, &e))
	a.Equal("Creator not found", e.Error)
	a.Equal(0, s.source.Calls)
}

func TestCreateCampaignValidation(t *testing.T) {
	s := newTestServer(t)
	creator := s.createCreator(t, "Creator", "UCcreator")

	for _, tc := range []struct {
		name   string
		body   interface{}
		status int
		error  string
	}{
		{"missing video", map[string]interface{}{"creatorId": creator.ID}, http.StatusBadRequest, "videoId and creatorId are required"},
		{"missing creator", map[string]interface{}{"videoId": "dQw4w9WgXcQ"}, http.StatusBadRequest, "videoId and creatorId are required"},
		{"bad video", map[string]interface{}{"videoId": "https://example.com/video", "creatorId": creator.ID}, http.StatusBadRequest, ""},
		{"bad cost", map[string]interface{}{"videoId": "dQw4w9WgXcQ", "creatorId": creator.ID, "costUsd": -5}, http.StatusBadRequest, ""},
		{"bad date", map[string]interface{}{"videoId": "dQw4w9WgXcQ", "creatorId": creator.ID, "wentLiveAt": "last tuesday"}, http.StatusBadRequest, ""},
		{"unknown video", map[string]interface{}{"videoId": "zzzzzzzzzzz", "creatorId": creator.ID}, http.StatusNotFound, "Video not found or missing data"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			var e errorResponse
			a.Equal(tc.status, s.do(t, http.MethodPost, "/campaigns", tc.body, &e))
			if tc.error != "" {
				a.Equal(tc.error, e.Error)
			}
		})
	}
}

func TestCampaignLifecycle(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)
	creator := s.createCreator(t, "Creator", "UCcreator")

	var created models.CampaignDetails
	a.Equal(http.StatusCreated, s.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"videoId":   "https://youtu.be/dQw4w9WgXcQ",
		"creatorId": itoa(creator.ID),
		"costUsd":   250.5,
	}, &created))
	a.NotZero(created.ID)
	a.Equal("dQw4w9WgXcQ", created.VideoID)
	a.Equal("Launch video", created.Title)
	a.True(time.Date(2024, 2, 1, 15, 0, 0, 0, time.UTC).Equal(created.WentLiveAt))
	a.Equal("All about it", created.Notes["description"])
	if a.NotNil(created.CostUSD) {
		a.Equal(250.5, *created.CostUSD)
	}
	if a.NotNil(created.LatestSnapshot) {
		a.Equal(int64(1000), created.LatestSnapshot.ViewCount)
		a.Equal(int64(10), created.LatestSnapshot.CommentCount)
	}

	var untitled models.CampaignDetails
	a.Equal(http.StatusCreated, s.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"videoId":    "abcdefghijk",
		"creatorId":  creator.ID,
		"wentLiveAt": "2024-03-01",
	}, &untitled))
	a.Equal(models.UntitledVideo, untitled.Title)
	a.True(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Equal(untitled.WentLiveAt))
	a.Nil(untitled.CostUSD)

	var events []jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs", nil, &events))
	if a.Len(events, 2) {
		a.Equal(queuenames.CampaignCreated, events[0].Name)
		a.Equal("pending", events[0].Status)
	}

	var list []models.CampaignDetails
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/campaigns", nil, &list))
	if a.Len(list, 2) {
		a.Equal(untitled.ID, list[0].ID)
		a.Equal(created.ID, list[1].ID)
		if a.NotNil(list[1].Creator) {
			a.Equal(creator.ID, list[1].Creator.ID)
		}
		a.NotNil(list[1].LatestSnapshot)
	}

	var e errorResponse
	a.Equal(http.StatusConflict, s.do(t, http.MethodDelete, "/creators/"+itoa(creator.ID), nil, &e))
	a.Equal("Creator has campaigns", e.Error)

	var updated models.Campaign
	a.Equal(http.StatusOK, s.do(t, http.MethodPut, "/campaigns/"+itoa(created.ID), map[string]interface{}{
		"title":   "New title",
		"costUsd": "99",
		"notes":   map[string]interface{}{"description": "edited", "tier": "gold"},
		"videoId": "zzzzzzzzzzz",
	}, &updated))
	a.Equal("New title", updated.Title)
	a.Equal("dQw4w9WgXcQ", updated.VideoID)
	a.Equal("gold", updated.Notes["tier"])
	if a.NotNil(updated.CostUSD) {
		a.Equal(99.0, *updated.CostUSD)
	}

	var details models.CampaignDetails
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/campaigns/"+itoa(created.ID), nil, &details))
	a.Len(details.Snapshots, 1)
	if a.NotNil(details.Creator) {
		a.Equal("Creator", details.Creator.Name)
	}

	var creatorDetails models.CreatorDetails
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/creators/"+itoa(creator.ID), nil, &creatorDetails))
	a.Len(creatorDetails.Campaigns, 2)

	var msg messageResponse
	a.Equal(http.StatusOK, s.do(t, http.MethodDelete, "/campaigns/"+itoa(created.ID), nil, &msg))
	a.Equal("Campaign deleted successfully", msg.Message)
	a.Equal(http.StatusNotFound, s.do(t, http.MethodGet, "/campaigns/"+itoa(created.ID), nil, nil))
	a.Equal(http.StatusNotFound, s.do(t, http.MethodDelete, "/campaigns/"+itoa(created.ID), nil, nil))
	a.Equal(http.StatusNotFound, s.do(t, http.MethodPut, "/campaigns/"+itoa(created.ID), map[string]string{"title": "x"}, nil))
}

func TestSchedule(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	var view map[string]interface{}
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/settings/schedule", nil, &view))
	a.Equal("5", view["dayOfWeek"])
	a.Equal("09", view["hour"])
	a.Equal("00", view["minute"])
	a.Equal("America/New_York", view["timezone"])
	a.Equal(true, view["enabled"])
	a.Nil(view["lastRun"])
	a.Equal("2024-03-08T14:00:00Z", view["nextRun"])

	var res struct {
		Success  bool                   `json:"success"`
		Schedule map[string]interface{} `json:"schedule"`
		NextRun  string                 `json:"nextRun"`
		Message  string                 `json:"message"`
	}
	a.Equal(http.StatusOK, s.do(t, http.MethodPost, "/settings/schedule", map[string]interface{}{
		"dayOfWeek": "1",
		"hour":      "08",
		"minute":    "30",
		"timezone":  "UTC",
		"enabled":   true,
	}, &res))
	a.True(res.Success)
	a.Equal("Schedule updated successfully", res.Message)
	a.Equal("08", res.Schedule["hour"])
	a.Equal("2024-03-11T08:30:00Z", res.NextRun)

	view = nil
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/settings/schedule", nil, &view))
	a.Equal("1", view["dayOfWeek"])
	a.Equal("30", view["minute"])

	var e errorResponse
	a.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/settings/schedule", map[string]interface{}{"hour": 24}, &e))
	a.Equal("Invalid schedule: hour must be between 0 and 23", e.Error)
	a.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/settings/schedule", map[string]interface{}{"timezone": "Atlantis/Capital"}, nil))

	var events []jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs", nil, &events))
	if a.Len(events, 1) {
		a.Equal(queuenames.ScheduleUpdated, events[0].Name)
	}
}

func TestTriggerCollection(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	var first, second triggerCollectionResponse
	a.Equal(http.StatusOK, s.do(t, http.MethodPost, "/settings/trigger-collection", nil, &first))
	a.True(first.Success)
	a.NotZero(first.EventID)
	a.Equal("Collection triggered successfully", first.Message)
	a.False(first.AlreadyQueued)
	a.True(testTime.Equal(first.TriggeredAt))

	a.Equal(http.StatusOK, s.do(t, http.MethodPost, "/settings/trigger-collection", nil, &second))
	a.Equal(first.EventID, second.EventID)
	a.True(second.AlreadyQueued)

	var job jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs/"+itoa(first.EventID), nil, &job))
	a.Equal(queuenames.CollectWeeklyVideoMetrics, job.Name)
	a.Equal(0, job.AttemptsRemaining)
	a.JSONEq(`{"triggeredAt":"2024-03-06T12:00:00Z","manual":true}`, string(job.Data))

	a.Equal(http.StatusNotFound, s.do(t, http.MethodGet, "/jobs/999", nil, nil))
}

func TestTriggerCollectionWhileRunning(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)
	creator := s.createCreator(t, "Creator", "UCcreator")

	a.Equal(http.StatusCreated, s.do(t, http.MethodPost, "/campaigns", map[string]interface{}{
		"videoId":   "dQw4w9WgXcQ",
		"creatorId": creator.ID,
	}, nil))

	// campaign.created; its analytics check waits an hour
	didRun, err := s.worker.RunOnce(s.jobContext())
	a.NoError(err)
	a.True(didRun)

	var first triggerCollectionResponse
	a.Equal(http.StatusOK, s.do(t, http.MethodPost, "/settings/trigger-collection", nil, &first))
	a.False(first.AlreadyQueued)

	started := make(chan struct{})
	release := make(chan struct{})
	ctx := ctxvideostats.WithSource(s.jobContext(), videostats.SourceFunc(func(ctx context.Context, id string) (*videostats.Video, error) {
		close(started)
		<-release
		return &videostats.Video{ID: id, ViewCount: 2000}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := s.worker.RunOnce(ctx)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(time.Second * 10):
		t.Fatal("collection did not start")
	}

	var job jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs/"+itoa(first.EventID), nil, &job))
	a.Equal("running", job.Status)

	var second triggerCollectionResponse
	a.Equal(http.StatusOK, s.do(t, http.MethodPost, "/settings/trigger-collection", nil, &second))
	a.True(second.AlreadyQueued)
	a.Equal(first.EventID, second.EventID)
	a.Equal("Collection already queued", second.Message)

	close(release)

	select {
	case err := <-done:
		a.NoError(err)
	case <-time.After(time.Second * 10):
		t.Fatal("collection did not finish")
	}

	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs/"+itoa(first.EventID), nil, &job))
	a.Equal("finished", job.Status)

	var pending []jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs", nil, &pending))
	if a.Len(pending, 1) {
		a.Equal(queuenames.CampaignCheckAnalytics, pending[0].Name)
		a.Equal("pending", pending[0].Status)
	}
}

func TestSendEvent(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	var e errorResponse
	a.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/events", map[string]interface{}{"name": "nope"}, &e))
	a.Contains(e.Error, "Unknown event")
	a.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/events", map[string]interface{}{}, nil))
	a.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/events", map[string]interface{}{"name": "test.hello", "data": []int{1}}, nil))

	var res eventResponse
	a.Equal(http.StatusAccepted, s.do(t, http.MethodPost, "/events", map[string]interface{}{"name": "test.hello", "data": map[string]string{"name": "Ada"}}, &res))
	a.Equal("test.hello", res.Name)

	didRun, err := s.worker.RunOnce(s.jobContext())
	a.NoError(err)
	a.True(didRun)

	var job jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs/"+itoa(res.EventID), nil, &job))
	a.Equal("finished", job.Status)
	if a.Len(job.Outputs, 1) {
		a.JSONEq(`{"message":"Hello Ada","data":{"name":"Ada"}}`, job.Outputs[0])
	}

	var all []jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs?all=true", nil, &all))
	a.Len(all, 1)

	var pending []jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs", nil, &pending))
	a.Len(pending, 0)
}

func TestHello(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	var msg messageResponse
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/hello", nil, &msg))
	a.Equal("Event sent!", msg.Message)

	var events []jobView
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/jobs", nil, &events))
	if a.Len(events, 1) {
		a.Equal(queuenames.TestHello, events[0].Name)
	}
}

func TestHealth(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	var res healthResponse
	a.Equal(http.StatusOK, s.do(t, http.MethodGet, "/health", nil, &res))
	a.Equal("ok", res.Status)
	a.NotEmpty(res.SQLiteVersion)
	a.True(testTime.Equal(res.Time))
}

func TestRouting(t *testing.T) {
	a := assert.New(t)

	s := newTestServer(t)

	var e errorResponse
	a.Equal(http.StatusNotFound, s.do(t, http.MethodGet, "/nowhere", nil, &e))
	a.Equal("Not found", e.Error)

	e = errorResponse{}
	a.Equal(http.StatusMethodNotAllowed, s.do(t, http.MethodPatch, "/creators", nil, &e))
	a.Equal("Method not allowed", e.Error)
}
