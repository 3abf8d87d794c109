package catchpanic

import (
	"fmt"
	"strings"

	"fknsrs.biz/p/ytcampaigns/internal/stackutil"
)

// PanicError is returned in place of a recovered panic. Stack holds the
// formatted frames starting at the panicking function.
type PanicError struct {
	Value interface{}
	Stack []string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("catchpanic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}

	return nil
}

func (e *PanicError) StackString() string {
	return strings.Join(e.Stack, "\n")
}

func Catch(fn func()) (err error) {
	defer func() {
		if ex := recover(); ex != nil {
			// skip the deferred func and runtime.gopanic
			err = &PanicError{Value: ex, Stack: stackutil.FormatStack(stackutil.GetStack(32, 2))}
		}
	}()

	fn()

	return
}

func CatchErr0(fn func() error) error {
	var err error

	if err1 := Catch(func() { err = fn() }); err1 != nil {
		return err1
	}

	return err
}

func CatchErr1[T any](fn func() (T, error)) (T, error) {
	var res T
	var err error

	if err1 := Catch(func() { res, err = fn() }); err1 != nil {
		err = err1
	}

	return res, err
}
