package remote

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Forwarder pushes first sightings to the store at most once. Failures are
// logged and dropped; nothing is retried.
type Forwarder struct {
	store   PlateStorer
	timeout time.Duration
	log     zerolog.Logger

	sent     atomic.Uint64
	failed   atomic.Uint64
	lastOK   atomic.Bool
	attempts atomic.Bool
}

func NewForwarder(store PlateStorer, timeout time.Duration, log zerolog.Logger) *Forwarder {
	return &Forwarder{store: store, timeout: timeout, log: log}
}

func (f *Forwarder) Forward(ctx context.Context, plate string) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	f.attempts.Store(true)
	if err := f.store.StorePlate(ctx, plate); err != nil {
		f.failed.Add(1)
		f.lastOK.Store(false)
		f.log.Warn().Err(err).Str("plate", plate).Msg("failed to forward plate to store")
		return
	}

	f.sent.Add(1)
	f.lastOK.Store(true)
	f.log.Debug().Str("plate", plate).Msg("plate forwarded to store")
}

// ForwardStats feeds the dashboard status line.
type ForwardStats struct {
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	Connected bool   `json:"connected"`
	Attempted bool   `json:"attempted"`
}

func (f *Forwarder) Stats() ForwardStats {
	return ForwardStats{
		Sent:      f.sent.Load(),
		Failed:    f.failed.Load(),
		Connected: f.lastOK.Load(),
		Attempted: f.attempts.Load(),
	}
}
