package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"bookline/internal/domain"
	"bookline/internal/logging"
	"bookline/internal/repo"
)

// Relay drains the notifications outbox. Rows are written in the same
// transaction as the transition that caused them; the relay claims them,
// hands them to the dispatcher and acks, backs off, or gives up.
type Relay struct {
	repo       repo.Repo
	dispatcher Dispatcher
	opts       RelayOptions
	m          *metrics
}

func NewRelay(r repo.Repo, dispatcher Dispatcher, opts RelayOptions) (*Relay, error) {
	if r.DB == nil {
		return nil, errors.New("notify: repo is required")
	}
	if dispatcher == nil {
		return nil, errors.New("notify: dispatcher is required")
	}
	opts.setDefaults()
	opts.Logger = logging.OrNop(opts.Logger)
	return &Relay{repo: r, dispatcher: dispatcher, opts: opts, m: getMetrics()}, nil
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := r.opts.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if r.opts.Now().After(nextDepthAt) {
			if err := r.observeQueueDepth(ctx); err != nil {
				r.opts.Logger.WithError(err).Debug("notify: observe queue depth failed")
			}
			nextDepthAt = r.opts.Now().Add(r.opts.ObserveQueueDepthEvery)
		}

		if _, err := r.ProcessOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).Warn("notify: process tick failed")
		}
	}
}

// ProcessOnce claims one batch and dispatches it. It returns how many were delivered.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	now := r.opts.Now().UTC()
	cutoff := now.Add(-r.opts.LockTTL)
	claimed, err := r.repo.ClaimNotifications(ctx, stamp(now), stamp(cutoff), r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, n := range claimed {
		dispatchCtx, cancel := context.WithTimeout(ctx, r.opts.DispatchTimeout)
		start := time.Now()
		err := r.dispatcher.Dispatch(dispatchCtx, n)
		cancel()
		latency := time.Since(start)

		if err == nil {
			r.record(n, "success", latency)
			delivered++
			if ackErr := r.repo.AckNotification(ctx, n.ID, stamp(r.opts.Now())); ackErr != nil {
				r.opts.Logger.WithError(ackErr).WithFields(logFields(n)).Warn("notify: ack failed")
			}
			continue
		}

		r.record(n, "failure", latency)
		lastErr := truncateError(err, r.opts.LastErrorMaxLen)
		if n.Attempts >= r.opts.MaxAttempts {
			r.m.deadTotal.WithLabelValues(n.Type).Inc()
			r.opts.Logger.WithError(err).WithFields(logFields(n)).Error("notify: giving up on notification")
			if deadErr := r.repo.DeadNotification(ctx, n.ID, lastErr, stamp(r.opts.Now())); deadErr != nil {
				r.opts.Logger.WithError(deadErr).WithFields(logFields(n)).Warn("notify: dead update failed")
			}
			if f, ok := r.dispatcher.(Forgetter); ok {
				f.Forget(n.ID)
			}
			continue
		}

		next := r.opts.Now().Add(backoff(n.Attempts, r.opts.MaxBackoff) + jitter(r.opts.Rand, r.opts.JitterMax))
		r.opts.Logger.WithError(err).WithFields(logFields(n)).WithField("retry_at", stamp(next)).Info("notify: dispatch failed, will retry")
		if nackErr := r.repo.NackNotification(ctx, n.ID, lastErr, stamp(next)); nackErr != nil {
			r.opts.Logger.WithError(nackErr).WithFields(logFields(n)).Warn("notify: nack failed")
		}
	}
	return delivered, nil
}

func (r *Relay) record(n domain.Notification, result string, latency time.Duration) {
	r.m.dispatchTotal.WithLabelValues(n.Type, result).Inc()
	r.m.dispatchLatency.WithLabelValues(result).Observe(latency.Seconds())
}

func (r *Relay) observeQueueDepth(ctx context.Context) error {
	pending, locked, err := r.repo.NotificationQueueDepth(ctx)
	if err != nil {
		return err
	}
	r.m.pending.Set(float64(pending))
	r.m.locked.Set(float64(locked))
	return nil
}

func logFields(n domain.Notification) logrus.Fields {
	return logrus.Fields{
		"notification_id": n.ID,
		"recipient_id":    n.RecipientID,
		"type":            n.Type,
		"attempts":        n.Attempts,
	}
}

// stamp renders times the way the store compares them.
func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
