package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/httputil"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/stringutil"
)

const jobsLimit = 500

type jobView struct {
	ID                int             `json:"id"`
	CreatedAt         time.Time       `json:"createdAt"`
	Name              string          `json:"name"`
	UniqueKey         *string         `json:"uniqueKey,omitempty"`
	Data              json.RawMessage `json:"data"`
	RunAfter          time.Time       `json:"runAfter"`
	AttemptsRemaining int             `json:"attemptsRemaining"`
	ReservedUntil     *time.Time      `json:"reservedUntil"`
	FinishedAt        *time.Time      `json:"finishedAt"`
	Status            string          `json:"status"`
	Errors            []string        `json:"errors"`
	Outputs           []string        `json:"outputs"`
}

func makeJobView(j jobqueue.Job, now time.Time) jobView {
	v := jobView{
		ID:                j.ID,
		CreatedAt:         j.CreatedAt,
		Name:              j.QueueName,
		UniqueKey:         j.UniqueKey,
		Data:              json.RawMessage(j.Payload),
		RunAfter:          j.RunAfter,
		AttemptsRemaining: j.AttemptsRemaining,
		ReservedUntil:     j.ReservedUntil,
		FinishedAt:        j.FinishedAt,
		Errors:            append([]string{}, j.ErrorMessages...),
		Outputs:           append([]string{}, j.OutputMessages...),
	}

	if !json.Valid(v.Data) {
		v.Data, _ = json.Marshal(j.Payload)
	}

	switch {
	case j.Failed():
		v.Status = "failed"
	case j.FinishedAt != nil:
		v.Status = "finished"
	case j.ReservedUntil != nil && j.ReservedUntil.After(now):
		v.Status = "running"
	default:
		v.Status = "pending"
	}

	return v
}

// Jobs lists pending jobs, or the most recent jobs of any state with
// ?all=true.
func Jobs(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var list []jobqueue.Job
	var err error
	if stringutil.LooksTrue(r.URL.Query().Get("all")) {
		list, err = jobqueue.FindRecent(ctx, ctxdb.GetDB(ctx), jobsLimit)
	} else {
		list, err = jobqueue.FindPending(ctx, ctxdb.GetDB(ctx), jobsLimit)
	}
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	now := ctxclock.Now(ctx)

	views := make([]jobView, len(list))
	for i, j := range list {
		views[i] = makeJobView(j, now)
	}

	httputil.WriteJSON(rw, http.StatusOK, views)
}

func Job(rw http.ResponseWriter, r *http.Request) {
	id, err := idVar(r, "Job not found")
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	job, err := jobqueue.Find(r.Context(), ctxdb.GetDB(r.Context()), id)
	if err != nil {
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			err = httputil.NotFoundError("Job not found")
		}

		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, makeJobView(*job, ctxclock.Now(r.Context())))
}
