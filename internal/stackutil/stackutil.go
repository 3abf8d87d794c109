package stackutil

import (
	"fmt"
	"runtime"
	"strings"
)

func GetStack(depth, skip int) []runtime.Frame {
	pc := make([]uintptr, depth)

	// skip runtime.Callers and this function
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return []runtime.Frame{}
	}

	frames := runtime.CallersFrames(pc[:n])

	var a []runtime.Frame
	for {
		frame, more := frames.Next()
		a = append(a, frame)
		if !more {
			break
		}
	}

	return a
}

// WithoutPackages drops frames whose function belongs to one of the given
// package paths (or their subpackages).
func WithoutPackages(a []runtime.Frame, packages []string) []runtime.Frame {
	var r []runtime.Frame

loop:
	for _, frame := range a {
		for _, pkg := range packages {
			if strings.HasPrefix(frame.Function, pkg+".") || strings.HasPrefix(frame.Function, pkg+"/") {
				continue loop
			}
		}

		r = append(r, frame)
	}

	return r
}

func FormatStack(a []runtime.Frame) []string {
	r := make([]string, len(a))
	for i, e := range a {
		r[i] = FormatStackFrame(e)
	}
	return r
}

func FormatStackFrame(f runtime.Frame) string {
	return fmt.Sprintf("%s:%d: %s", f.File, f.Line, f.Function)
}
