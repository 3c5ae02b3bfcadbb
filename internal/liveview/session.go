package liveview

import (
	"context"
	"sync"
	"time"

	"sidequest-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// SessionConfig wires one viewer's live view.
type SessionConfig struct {
	ViewerID string

	// Viewpoint at session start.
	Latitude    float64
	Longitude   float64
	RadiusMiles float64

	Snapshot Snapshot
	Validate Validate

	// Streams are the change subscriptions to consume. The transport
	// filters per visibility class, so a session wanting both classes
	// passes two.
	Streams []<-chan models.ChangeNotification

	// Unsubscribe releases the streams. Called exactly once on teardown.
	Unsubscribe func()

	// SendLocation pushes the viewer's current location upstream. Invoked
	// on LocationInterval only while the viewer is broadcasting.
	SendLocation func(ctx context.Context) error

	SnapshotInterval time.Duration
	LocationInterval time.Duration
}

// Session is the session-scoped owner of one viewer's live view: the
// reconciler, the change stream consumption, the periodic snapshot refresh
// and the broadcaster's location refresh timer. It is created when the
// viewer enters the broadcasting flow and must be stopped when they leave
// or sign out; stopping unsubscribes and halts all timers so no location
// update leaks afterwards.
type Session struct {
	cfg SessionConfig
	rec *Reconciler

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewSession creates a session. Run must be called for the view to update.
func NewSession(cfg SessionConfig) *Session {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	if cfg.LocationInterval <= 0 {
		cfg.LocationInterval = 30 * time.Second
	}
	return &Session{
		cfg:     cfg,
		rec:     NewReconciler(cfg.ViewerID, cfg.Latitude, cfg.Longitude, cfg.RadiusMiles, cfg.Validate),
		stopped: make(chan struct{}),
	}
}

// Reconciler exposes the session's view.
func (s *Session) Reconciler() *Reconciler {
	return s.rec
}

// Stop tears the session down. Safe to call more than once and concurrently
// with Run.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
	})
}

// Run consumes the streams and timers until the context is cancelled or
// Stop is called. All view mutations happen on this goroutine; the streams
// are merged, not processed concurrently.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		if s.cfg.Unsubscribe != nil {
			s.cfg.Unsubscribe()
		}
	}()

	// Merge the per-class streams into one channel. The forwarders exit
	// when their stream closes (unsubscribe) or the session ends. done must
	// close before the wait, or teardown blocks on forwarders still parked
	// on their streams.
	merged := make(chan models.ChangeNotification)
	var wg sync.WaitGroup
	done := make(chan struct{})
	defer wg.Wait()
	defer close(done)
	for _, stream := range s.cfg.Streams {
		wg.Add(1)
		go func(stream <-chan models.ChangeNotification) {
			defer wg.Done()
			for {
				select {
				case c, ok := <-stream:
					if !ok {
						return
					}
					select {
					case merged <- c:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(stream)
	}

	s.refreshSnapshot(ctx)

	snapshotTicker := time.NewTicker(s.cfg.SnapshotInterval)
	defer snapshotTicker.Stop()
	locationTicker := time.NewTicker(s.cfg.LocationInterval)
	defer locationTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case c := <-merged:
			s.rec.Apply(ctx, c)
		case <-snapshotTicker.C:
			s.refreshSnapshot(ctx)
		case <-locationTicker.C:
			if s.rec.IsSharing() && s.cfg.SendLocation != nil {
				if err := s.cfg.SendLocation(ctx); err != nil {
					log.Warn().
						Err(err).
						Str("viewer_id", s.cfg.ViewerID).
						Msg("Location refresh failed")
				}
			}
		}
	}
}

func (s *Session) refreshSnapshot(ctx context.Context) {
	if s.cfg.Snapshot == nil {
		return
	}
	taken := time.Now()
	rows, err := s.cfg.Snapshot(ctx)
	if err != nil {
		// Degrade to the current view; the stream keeps it roughly fresh
		// and the next tick retries.
		log.Warn().
			Err(err).
			Str("viewer_id", s.cfg.ViewerID).
			Msg("Snapshot refresh failed")
		return
	}
	s.rec.ApplySnapshot(taken, rows)
}
