package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/infra"
	"github.com/parleyhq/parley/internal/observability"
)

// GovernorConfig bounds admission control.
type GovernorConfig struct {
	// ChannelSlots is the number of concurrent requests per channel.
	// Default 3.
	ChannelSlots int

	// AdmissionWait is how long a request waits for a slot before being
	// rejected channel-busy. Default 2s.
	AdmissionWait time.Duration

	// UserCooldown is the minimum interval between requests from the
	// same user. Default 3s.
	UserCooldown time.Duration

	// WindowLimit and Window bound per-user request volume. Defaults:
	// 10 requests per minute.
	WindowLimit int
	Window      time.Duration
}

func (c *GovernorConfig) applyDefaults() {
	if c.ChannelSlots <= 0 {
		c.ChannelSlots = 3
	}
	if c.AdmissionWait <= 0 {
		c.AdmissionWait = 2 * time.Second
	}
	if c.UserCooldown <= 0 {
		c.UserCooldown = 3 * time.Second
	}
	if c.WindowLimit <= 0 {
		c.WindowLimit = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
}

// Ticket is an admission grant. Release returns the channel slot and is
// idempotent; the pipeline defers it around the rest of the request.
type Ticket struct {
	sem  *infra.Semaphore
	once sync.Once
}

// Release returns the channel slot. Safe to call more than once.
func (t *Ticket) Release() {
	t.once.Do(func() {
		if t.sem != nil {
			t.sem.Release()
		}
	})
}

// Governor admits or rejects inbound requests. Per-user rate checks
// reject immediately; only then does the request wait, briefly, for a
// channel slot. A rate-limited user never occupies a slot.
type Governor struct {
	config   GovernorConfig
	cooldown *infra.Cooldown
	window   *infra.PerKeyWindow
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	slots map[string]*channelState
}

// channelState tracks one channel's semaphore and when it was last
// handed out, so pruning never drops a tracker a request still holds.
type channelState struct {
	sem     *infra.Semaphore
	touched time.Time
}

// NewGovernor creates a governor. metrics may be nil.
func NewGovernor(config GovernorConfig, logger *observability.Logger, metrics *observability.Metrics) *Governor {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &Governor{
		config:   config,
		cooldown: infra.NewCooldown(config.UserCooldown),
		window:   infra.NewPerKeyWindow(config.WindowLimit, config.Window),
		logger:   logger,
		metrics:  metrics,
	}
}

// Admit grants a ticket or returns a RejectedError. The caller must
// Release the ticket when the request finishes.
func (g *Governor) Admit(ctx context.Context, channelID, userID string) (*Ticket, error) {
	if ok, wait := g.cooldown.Allow(userID); !ok {
		g.reject(ReasonRateLimited, channelID, userID)
		return nil, &RejectedError{Reason: ReasonRateLimited, RetryAfter: wait}
	}
	if !g.window.Allow(userID) {
		g.reject(ReasonRateLimited, channelID, userID)
		return nil, &RejectedError{Reason: ReasonRateLimited, RetryAfter: g.window.RetryAfter(userID)}
	}

	sem := g.channelSlots(channelID)
	if err := sem.AcquireWithin(ctx, g.config.AdmissionWait); err != nil {
		// The user was never admitted; hand back the cooldown stamp and
		// window slot consumed above so a busy channel costs them nothing.
		g.cooldown.Forgive(userID)
		g.window.Forgive(userID)
		g.reject(ReasonChannelBusy, channelID, userID)
		return nil, &RejectedError{Reason: ReasonChannelBusy, RetryAfter: g.config.AdmissionWait}
	}
	return &Ticket{sem: sem}, nil
}

// Prune drops per-user rate state and channel trackers idle longer
// than retention. The serve loop schedules this periodically.
func (g *Governor) Prune(retention time.Duration) int {
	removed := g.cooldown.Prune(retention)
	removed += g.window.Prune()

	g.mu.Lock()
	cutoff := time.Now().Add(-retention)
	for id, st := range g.slots {
		if st.touched.Before(cutoff) && st.sem.InUse() == 0 && st.sem.Waiters() == 0 {
			delete(g.slots, id)
			removed++
		}
	}
	g.mu.Unlock()
	return removed
}

func (g *Governor) channelSlots(channelID string) *infra.Semaphore {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.slots == nil {
		g.slots = make(map[string]*channelState)
	}
	st, ok := g.slots[channelID]
	if !ok {
		st = &channelState{sem: infra.NewSemaphore(int64(g.config.ChannelSlots))}
		g.slots[channelID] = st
	}
	st.touched = time.Now()
	return st.sem
}

func (g *Governor) reject(reason RejectReason, channelID, userID string) {
	g.logger.Info("request rejected at admission",
		"reason", string(reason), "channel_id", channelID, "user_id", userID)
	if g.metrics != nil {
		g.metrics.AdmissionRejections.WithLabelValues(string(reason)).Inc()
	}
}
