package go_func_utils

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// SafeGo runs fn on a new goroutine and logs any panic with its stack before re-panicking.
func SafeGo(logger logrus.FieldLogger, fn func()) {
	// because there's lots of goroutines and the curses UI swallows up errors to stdout
	// capture the error in our logger before crashing out again...
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithField("stack", string(debug.Stack())).Errorf("PANIC: %v", r)
				panic(r)
			}
		}()
		fn()
	}()
}
