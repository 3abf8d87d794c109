package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxjobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/httputil"
	"fknsrs.biz/p/ytcampaigns/internal/jobqueue"
	"fknsrs.biz/p/ytcampaigns/internal/queuenames"
	"fknsrs.biz/p/ytcampaigns/jobs"
)

type eventInput struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

type eventResponse struct {
	Success       bool   `json:"success"`
	EventID       int    `json:"eventId"`
	Name          string `json:"name"`
	AlreadyQueued bool   `json:"alreadyQueued,omitempty"`
}

// SendEvent enqueues any known event by name. The collection event always
// goes through the unique key, so it can't be queued twice.
func SendEvent(rw http.ResponseWriter, r *http.Request) {
	var input eventInput
	if err := httputil.DecodeInput(r, &input); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		httputil.WriteError(rw, r, httputil.BadRequest("name is required"))
		return
	}
	if !queuenames.IsKnown(input.Name) {
		httputil.WriteError(rw, r, httputil.BadRequest("Unknown event: "+input.Name+"; expected one of "+strings.Join(queuenames.All, ", ")))
		return
	}

	var data interface{} = map[string]interface{}{}
	if len(input.Data) > 0 && string(input.Data) != "null" {
		var obj map[string]interface{}
		if err := json.Unmarshal(input.Data, &obj); err != nil {
			httputil.WriteError(rw, r, httputil.Wrap(err, http.StatusBadRequest, "data must be a JSON object"))
			return
		}
		data = obj
	}

	res := eventResponse{Success: true, Name: input.Name}

	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		var job *jobqueue.Job
		var err error

		if input.Name == queuenames.CollectWeeklyVideoMetrics {
			job, res.AlreadyQueued, err = jobs.EnqueueCollection(ctx, tx, ctxclock.Now(ctx), true)
		} else {
			job, err = ctxjobqueue.Send(ctx, tx, input.Name, data)
		}
		if err != nil {
			return err
		}

		res.EventID = job.ID

		return nil
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	ctxlogger.GetLogger(r.Context()).WithFields(logrus.Fields{
		"event.name": res.Name,
		"job.id":     res.EventID,
	}).Info("event sent")

	httputil.WriteJSON(rw, http.StatusAccepted, res)
}

// Hello sends a test.hello event with a canned payload.
func Hello(rw http.ResponseWriter, r *http.Request) {
	if err := ctxdb.UsingTxRetry(r.Context(), txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		_, err := ctxjobqueue.Send(ctx, tx, queuenames.TestHello, jobs.HelloPayload{
			Email:     "testUser@example.com",
			Message:   "Hello from API route!",
			Timestamp: ctxclock.Now(ctx).UTC().Format(time.RFC3339),
		})
		return err
	}); err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, messageResponse{Message: "Event sent!"})
}
