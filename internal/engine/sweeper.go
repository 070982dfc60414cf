package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"bookline/internal/engine/auth"
)

// SweepResult summarises one pass of the completion sweeper.
type SweepResult struct {
	Due       int      `json:"due"`
	Completed []string `json:"completed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
}

// CompleteDueBookings completes accepted bookings whose scheduled end has
// passed, acting as the system. Bookings that moved on concurrently are skipped.
func (e Engine) CompleteDueBookings(ctx context.Context, limit int) (SweepResult, error) {
	due, err := e.Repo.ListDueBookings(ctx, e.stamp(), limit)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Due: len(due), Completed: []string{}}
	log := e.logger()
	for _, b := range due {
		_, err := e.CompleteBooking(ctx, BookingCompleteOptions{Actor: auth.System, ID: b.ID, ExpectedStatus: b.Status})
		var conflict ConflictError
		switch {
		case err == nil:
			res.Completed = append(res.Completed, b.ID)
		case errors.As(err, &conflict):
			res.Skipped++
		default:
			res.Failed++
			log.WithError(err).WithField("booking_id", b.ID).Warn("sweeper could not complete booking")
		}
	}
	return res, nil
}

// RunSweeper runs CompleteDueBookings every interval until ctx is done.
func (e Engine) RunSweeper(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		return
	}
	log := e.logger().WithField("component", "sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := e.CompleteDueBookings(ctx, batch)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("sweep failed")
		} else if len(res.Completed) > 0 || res.Failed > 0 {
			log.WithFields(logrus.Fields{
				"completed": len(res.Completed),
				"skipped":   res.Skipped,
				"failed":    res.Failed,
			}).Info("sweep finished")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
