package videostats

import (
	"context"
	"fmt"
	"time"
)

var (
	ErrVideoNotFound = fmt.Errorf("video not found")
)

// Video is what a statistics source knows about one video at the time it
// was asked.
type Video struct {
	ID           string
	Title        string
	Description  string
	PublishedAt  *time.Time
	ViewCount    int64
	CommentCount int64
}

// Source looks up current statistics for a video. Implementations return
// an error wrapping ErrVideoNotFound when the video doesn't exist or has no
// usable data.
type Source interface {
	GetVideo(ctx context.Context, id string) (*Video, error)
}

type SourceFunc func(ctx context.Context, id string) (*Video, error)

func (fn SourceFunc) GetVideo(ctx context.Context, id string) (*Video, error) {
	return fn(ctx, id)
}

// Static serves videos from a map. It counts lookups so tests can assert
// that no external call happened.
type Static struct {
	Videos map[string]*Video
	Errors map[string]error
	Calls  int
}

func (s *Static) GetVideo(ctx context.Context, id string) (*Video, error) {
	s.Calls++

	if err := s.Errors[id]; err != nil {
		return nil, err
	}

	v, ok := s.Videos[id]
	if !ok {
		return nil, fmt.Errorf("videostats.Static.GetVideo: %q: %w", id, ErrVideoNotFound)
	}

	c := *v

	return &c, nil
}
