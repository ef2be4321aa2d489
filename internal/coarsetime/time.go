// Package coarsetime is a low resolution clock for hot paths, such as
// stamping session activity on every completed command.
// The current time is refreshed every 50ms by a background goroutine.
package coarsetime

import (
	"time"

	"go.uber.org/atomic"
)

const Resolution = 50 * time.Millisecond

var nowNano = atomic.NewInt64(time.Now().UnixNano())

func init() {
	tick := time.NewTicker(Resolution)
	go func() {
		for t := range tick.C {
			nowNano.Store(t.UnixNano())
		}
	}()
}

func Now() time.Time {
	return time.Unix(0, nowNano.Load())
}

// Since is time.Since against the coarse clock. It never returns a negative duration.
func Since(t time.Time) time.Duration {
	d := Now().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}
