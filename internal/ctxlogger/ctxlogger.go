package ctxlogger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/ctxclock"
)

// context registration

var (
	loggerKey    int
	requestIDKey int
)

func WithLogger(ctx context.Context, l logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, &loggerKey, l)
}

func GetLogger(ctx context.Context) logrus.FieldLogger {
	if v := ctx.Value(&loggerKey); v != nil {
		return v.(logrus.FieldLogger)
	}

	return logrus.StandardLogger()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, &requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(&requestIDKey); v != nil {
		return v.(string)
	}

	return ""
}

// middleware

const RequestIDHeader = "X-Request-ID"

func Register(l logrus.FieldLogger) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithLogger(r.Context(), l)))
	}
}

// Log tags each request with an id, echoes it in the response headers, and
// logs the start and end of the request.
func Log() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := r.Context()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		rw.Header().Set(RequestIDHeader, requestID)

		l := GetLogger(ctx).WithFields(logrus.Fields{
			"http.request_id": requestID,
			"http.method":     r.Method,
			"http.path":       r.URL.String(),
			"http.host":       r.Host,
			"http.referer":    r.Header.Get("referer"),
			"http.user_agent": r.Header.Get("user-agent"),
		})

		ctx = WithLogger(WithRequestID(ctx, requestID), l)

		startedAt := ctxclock.Now(ctx)

		defer func() {
			fields := logrus.Fields{
				"http.duration": ctxclock.Now(ctx).Sub(startedAt).String(),
			}

			if nrw, ok := rw.(interface {
				Status() int
				Size() int
			}); ok {
				fields["http.status_code"] = nrw.Status()
				fields["http.response_size"] = nrw.Size()
			}

			l.WithFields(fields).Info("http request finished")
		}()

		l.Info("http request started")

		next(rw, r.WithContext(ctx))
	}
}
