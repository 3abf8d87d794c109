package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fknsrs.biz/p/sorm/qsorm"
	sb "fknsrs.biz/p/sqlbuilder"
	"github.com/gorilla/mux"

	"fknsrs.biz/p/ytcampaigns/internal/ctxdb"
	"fknsrs.biz/p/ytcampaigns/internal/godatautil"
	"fknsrs.biz/p/ytcampaigns/internal/httputil"
	"fknsrs.biz/p/ytcampaigns/internal/sqlbuilderutil"
)

const (
	defaultListTop = 100
	maxListTop     = 1000

	// txAttempts bounds retries of write transactions that lose a lock
	// race with the job workers.
	txAttempts = 5
)

func idVar(r *http.Request, notFoundMessage string) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		return 0, httputil.NotFoundError(notFoundMessage)
	}

	return id, nil
}

// findList runs a list query described by the request's $filter, $orderby,
// $top and $skip options.
func findList(r *http.Request, table *sqlbuilderutil.Table, out interface{}, defaultOrders ...sb.AsOrderingTerm) error {
	q, err := godatautil.ParseQuery(r.URL.Query())
	if err != nil {
		return httputil.Wrap(err, http.StatusBadRequest, "Invalid query options")
	}

	condition, err := godatautil.MakeCondition(q, table)
	if err != nil {
		return httputil.Wrap(err, http.StatusBadRequest, "Invalid $filter")
	}

	orders, err := godatautil.MakeOrders(q, table, defaultOrders...)
	if err != nil {
		return httputil.Wrap(err, http.StatusBadRequest, "Invalid $orderby")
	}

	return qsorm.FindWhere(
		r.Context(),
		ctxdb.GetDB(r.Context()),
		out,
		condition,
		orders,
		godatautil.MakeOffsetLimit(q, 0, defaultListTop, maxListTop),
	)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTime accepts RFC3339 timestamps as well as the values date and
// datetime-local form inputs send. Values without a zone are UTC.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

type messageResponse struct {
	Message string `json:"message"`
}
