// Package signal routes process signals to the running command.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context that is cancelled on SIGTERM or SIGHUP.
// SIGINT is left to Interrupts so an interactive command can cancel a turn without exiting.
func NotifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
}

// Interrupts delivers SIGINT until stop is called.
func Interrupts() (ch <-chan os.Signal, stop func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	return c, func() { signal.Stop(c) }
}
