package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// JobService runs the housekeeping sweep that completes ACTIVE reservations
// whose window has already closed, releasing their slots.
type JobService struct {
	reservations *ReservationService
	log          *zap.SugaredLogger
}

func NewJobService(reservations *ReservationService, log *zap.SugaredLogger) *JobService {
	return &JobService{reservations: reservations, log: log}
}

// CompleteFinishedReservations is the cron entrypoint.
func (s *JobService) CompleteFinishedReservations() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	completed, err := s.reservations.CompleteExpired(ctx)
	if err != nil {
		s.log.Errorw("expiry sweep failed", "error", err)
		return
	}
	if completed > 0 {
		s.log.Infow("expiry sweep completed reservations", "count", completed)
	}
}
