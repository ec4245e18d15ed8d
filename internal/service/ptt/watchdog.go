package ptt

import (
	"context"
	"time"
)

// watchdog периодически проверяет длительность записи.
type watchdog struct {
	interval time.Duration
	check    func()
}

func newWatchdog(interval time.Duration, check func()) *watchdog {
	return &watchdog{interval: interval, check: check}
}

// run вызывает check каждые interval до отмены ctx.
func (w *watchdog) run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.check()
		}
	}
}
