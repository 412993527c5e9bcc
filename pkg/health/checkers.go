package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck flags a goroutine leak once the count passes threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("%d goroutines exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger matches pgxpool.Pool and anything else with a context Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes a database or similar dependency.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}
