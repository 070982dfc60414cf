package notify

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"bookline/internal/config"
)

type RelayOptions struct {
	PollInterval    time.Duration
	BatchSize       int
	LockTTL         time.Duration
	MaxAttempts     int
	MaxBackoff      time.Duration
	JitterMax       time.Duration
	LastErrorMaxLen int
	DispatchTimeout time.Duration

	ObserveQueueDepthEvery time.Duration

	Logger *logrus.Entry
	Rand   *rand.Rand
	Now    func() time.Time
}

// OptionsFromConfig maps the notify config section onto relay options.
func OptionsFromConfig(cfg *config.Config) RelayOptions {
	if cfg == nil {
		return RelayOptions{}
	}
	n := cfg.Notify
	return RelayOptions{
		PollInterval:    n.PollInterval,
		BatchSize:       n.BatchSize,
		LockTTL:         n.LockTTL,
		MaxAttempts:     n.MaxAttempts,
		MaxBackoff:      n.MaxBackoff,
		JitterMax:       n.JitterMax,
		DispatchTimeout: n.DispatchTimeout,
	}
}

func (o *RelayOptions) setDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = 1 * time.Second
	}
	if o.BatchSize == 0 {
		o.BatchSize = 100
	}
	if o.LockTTL == 0 {
		o.LockTTL = 60 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 25
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 60 * time.Second
	}
	if o.JitterMax == 0 {
		o.JitterMax = 200 * time.Millisecond
	}
	if o.LastErrorMaxLen == 0 {
		o.LastErrorMaxLen = 2048
	}
	if o.DispatchTimeout == 0 {
		o.DispatchTimeout = 10 * time.Second
	}
	if o.ObserveQueueDepthEvery == 0 {
		o.ObserveQueueDepthEvery = 10 * time.Second
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}
