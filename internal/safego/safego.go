// Package safego keeps background goroutines from taking the server down.
package safego

import "log/slog"

// Go runs fn on its own goroutine and swallows any panic, logging it instead.
// The audit shipper, the token sweeper, and the keystore file watcher all run
// through here: a panic in one of them must neither crash the process nor
// silently end the loop without a trace in the logs.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
