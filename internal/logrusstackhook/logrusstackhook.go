package logrusstackhook

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytcampaigns/internal/stackutil"
)

var (
	DefaultLevels          = []logrus.Level{logrus.DebugLevel, logrus.TraceLevel}
	DefaultIgnoredPackages = []string{"github.com/sirupsen/logrus", "fknsrs.biz/p/ytcampaigns/internal/logrusstackhook.(*StackHook)"}
)

// StackHook attaches the caller's stack to entries at the configured levels,
// one field per frame ("stack.00", "stack.01", ...).
type StackHook struct {
	levels          []logrus.Level
	ignoredPackages []string
	maxFrames       int
}

func NewStackHook(levels []logrus.Level, ignoredPackages []string) *StackHook {
	if levels == nil {
		levels = DefaultLevels
	}

	return &StackHook{
		levels:          levels,
		ignoredPackages: append(append([]string{}, DefaultIgnoredPackages...), ignoredPackages...),
		maxFrames:       25,
	}
}

func AllLevelsAbove(lowestLevel logrus.Level) []logrus.Level {
	var levels []logrus.Level

	for _, e := range logrus.AllLevels {
		if e >= lowestLevel {
			levels = append(levels, e)
		}
	}

	return levels
}

func (h *StackHook) Levels() []logrus.Level { return h.levels }

func (h *StackHook) Fire(e *logrus.Entry) error {
	frames := stackutil.WithoutPackages(stackutil.GetStack(h.maxFrames+10, 0), h.ignoredPackages)
	if len(frames) > h.maxFrames {
		frames = frames[:h.maxFrames]
	}

	for i, frame := range frames {
		e.Data[fmt.Sprintf("stack.%02d", i)] = stackutil.FormatStackFrame(frame)
	}

	return nil
}
