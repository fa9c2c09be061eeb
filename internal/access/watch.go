package access

import (
	"context"
	"log/slog"
	"time"
)

// Watcher periodically re-resolves a view until stopped.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Watch calls refresh immediately and then every interval, passing each view to
// onChange when its state, optimistic flag or credential differs from the last
// one delivered. Refresh errors are logged and skipped. The watcher ends when
// parent is cancelled or Stop is called.
func Watch(parent context.Context, interval time.Duration, refresh func(context.Context) (*View, error), onChange func(*View)) *Watcher {
	ctx, cancel := context.WithCancel(parent)
	w := &Watcher{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last *View
		for {
			v, err := refresh(ctx)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					slog.Warn("access watch refresh failed", "error", err)
				}
			case changed(last, v):
				last = v
				onChange(v)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return w
}

// Stop ends the watch and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// Done is closed once the watch loop has exited.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func changed(prev, next *View) bool {
	if prev == nil {
		return true
	}
	if prev.State != next.State || prev.Optimistic != next.Optimistic || prev.Degraded != next.Degraded {
		return true
	}
	return (prev.Credential == nil) != (next.Credential == nil)
}
