package ctxclock

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// context registation

var clockKey int

func WithClock(ctx context.Context, c Clock) context.Context {
	if c == nil {
		c = NewRealClock()
	}

	return context.WithValue(ctx, &clockKey, c)
}

func GetClock(ctx context.Context) Clock {
	if v := ctx.Value(&clockKey); v != nil {
		return v.(Clock)
	}

	return nil
}

// Now reads the context's clock, falling back to the system time.
func Now(ctx context.Context) time.Time {
	if c := GetClock(ctx); c != nil {
		return c.Now()
	}

	return time.Now()
}

// middleware

func Register(c Clock) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithClock(r.Context(), c)))
	}
}

// public interface

type Clock interface {
	Now() time.Time
}

// real clock

type realClock struct{}

func NewRealClock() Clock {
	return &realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

// static clock

type staticClock struct{ t time.Time }

func NewStaticClock(t time.Time) Clock {
	return &staticClock{t: t}
}

func (c *staticClock) Now() time.Time {
	return c.t
}

// TestClock starts at a fixed time and only moves when told to.
type TestClock struct {
	m sync.RWMutex
	t time.Time
}

func NewTestClock(t time.Time) *TestClock {
	return &TestClock{t: t}
}

func (c *TestClock) Now() time.Time {
	c.m.RLock()
	defer c.m.RUnlock()

	return c.t
}

func (c *TestClock) Advance(d time.Duration) time.Time {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = c.t.Add(d)

	return c.t
}

func (c *TestClock) Set(t time.Time) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = t
}
