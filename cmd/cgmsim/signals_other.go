//go:build !unix

package main

import (
	"context"
	"os"
	"os/signal"
)

func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}
