package services

import (
	"context"
	"time"

	"sidequest-backend/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically flips is_active on broadcasts whose expiry has
// passed, independent of explicit stop, and publishes the resulting
// updates so live views converge.
type Sweeper struct {
	store     PresenceStore
	publisher ChangePublisher
	cron      *cron.Cron
	spec      string
}

// NewSweeper creates a new expiry sweeper
func NewSweeper(store PresenceStore, publisher ChangePublisher, spec string) *Sweeper {
	return &Sweeper{
		store:     store,
		publisher: publisher,
		cron:      cron.New(),
		spec:      spec,
	}
}

// Start schedules the sweep and runs one immediately to clear any backlog.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	go s.sweep()
	return nil
}

// Stop halts the schedule; an in-flight sweep finishes.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := s.store.ExpireOverdue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Expiry sweep failed")
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, p := range expired {
		s.publisher.Publish(models.ChangeNotification{Kind: models.ChangeUpdate, New: p})
	}

	log.Info().Int("expired", len(expired)).Msg("Expired overdue presences")
}
