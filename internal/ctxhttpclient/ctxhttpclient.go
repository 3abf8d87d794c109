package ctxhttpclient

import (
	"context"
	"net/http"
	"time"
)

// context registration

var httpClientKey int

func WithHTTPClient(ctx context.Context, httpClient *http.Client) context.Context {
	return context.WithValue(ctx, &httpClientKey, httpClient)
}

func GetHTTPClient(ctx context.Context) *http.Client {
	if v := ctx.Value(&httpClientKey); v != nil {
		return v.(*http.Client)
	}

	return http.DefaultClient
}

// middleware

func Register(httpClient *http.Client) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithHTTPClient(r.Context(), httpClient)))
	}
}

// client construction

const DefaultUserAgent = "ytcampaigns/1.0 (+https://fknsrs.biz/p/ytcampaigns)"

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("user-agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("user-agent", t.userAgent)
	}

	return t.next.RoundTrip(req)
}

// New builds a client that sets a default user agent and gives up after
// timeout. A nil transport means http.DefaultTransport.
func New(transport http.RoundTripper, timeout time.Duration) *http.Client {
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &http.Client{
		Transport: &userAgentTransport{next: transport, userAgent: DefaultUserAgent},
		Timeout:   timeout,
	}
}
