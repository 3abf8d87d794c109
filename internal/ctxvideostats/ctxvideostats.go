package ctxvideostats

import (
	"context"
	"fmt"
	"net/http"

	"fknsrs.biz/p/ytcampaigns/internal/videostats"
)

// context registration

var sourceKey int

func WithSource(ctx context.Context, s videostats.Source) context.Context {
	return context.WithValue(ctx, &sourceKey, s)
}

func GetSource(ctx context.Context) videostats.Source {
	if v := ctx.Value(&sourceKey); v != nil {
		return v.(videostats.Source)
	}

	return nil
}

// middleware

func Register(s videostats.Source) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithSource(r.Context(), s)))
	}
}

// main interface

var (
	ErrNoSource = fmt.Errorf("no video statistics source found in context")
)

func GetVideo(ctx context.Context, id string) (*videostats.Video, error) {
	s := GetSource(ctx)
	if s == nil {
		return nil, ErrNoSource
	}

	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ctxvideostats.GetVideo: %w", err)
	}

	return v, nil
}
