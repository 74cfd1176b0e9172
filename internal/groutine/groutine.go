// Package groutine starts named goroutines. The name is attached as a pprof
// label and carried in the context handed to the goroutine.
package groutine

import (
	"context"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// LabelKey is the pprof label holding the goroutine name
const LabelKey = "goroutine_name"

// Go runs fn in a new goroutine named name. A nil parent means context.Background().
//
//	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
//	    <-ctx.Done()
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(LabelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the goroutine name carried by ctx, "" outside Go.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}

// Entry returns logger tagged with the goroutine name carried by ctx.
func Entry(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	entry := logrus.NewEntry(logger)
	if name := Name(ctx); name != "" {
		entry = entry.WithField("goroutine", name)
	}
	return entry
}
