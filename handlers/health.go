package handlers

import (
	"net/http"
	"time"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
	"fknsrs.biz/p/ytcampaigns/internal/httputil"
)

type healthResponse struct {
	Status        string    `json:"status"`
	Database      string    `json:"database"`
	SQLiteVersion string    `json:"sqliteVersion,omitempty"`
	Time          time.Time `json:"time"`
}

func Health(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res := healthResponse{Status: "ok", Database: "ok", Time: ctxclock.Now(ctx).UTC()}

	if err := ctxdb.GetDB(ctx).QueryRowContext(ctx, "select sqlite_version()").Scan(&res.SQLiteVersion); err != nil {
		ctxlogger.GetLogger(ctx).WithError(err).Warn("health check could not reach database")

		res.Status = "degraded"
		res.Database = "unreachable"

		httputil.WriteJSON(rw, http.StatusServiceUnavailable, res)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, res)
}
