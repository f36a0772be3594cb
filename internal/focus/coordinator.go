// Package focus requests and releases audio focus around a playback
// session and turns focus revocation into a stop of the session.
package focus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// DefaultSettleDelay gives other audio time to duck before speech starts
// when the provider reports it is playing.
const DefaultSettleDelay = 450 * time.Millisecond

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithSettleDelay sets the pause after a grant while other audio is active.
// Zero disables it.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.settle = d
	}
}

// WithDucking controls whether grants let other audio keep playing ducked.
func WithDucking(enabled bool) Option {
	return func(c *Coordinator) {
		c.mayDuck = enabled
	}
}

// WithEnabled turns focus management on or off. When off, requests are
// granted without contacting the provider and revocations are ignored.
func WithEnabled(enabled bool) Option {
	return func(c *Coordinator) {
		c.enabled = enabled
	}
}

// Coordinator holds at most one focus grant at a time. Safe for
// concurrent use.
type Coordinator struct {
	provider domain.FocusProvider
	log      *logger.Logger
	settle   time.Duration

	mu          sync.Mutex
	enabled     bool
	mayDuck     bool
	state       domain.FocusState
	requesting  bool
	lostEarly   bool
	viaProvider bool
	gen         uint64
	onLoss      func()
	abandons    int
}

// NewCoordinator creates a coordinator for a provider.
func NewCoordinator(provider domain.FocusProvider, log *logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider: provider,
		log:      log,
		settle:   DefaultSettleDelay,
		enabled:  true,
		mayDuck:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnLoss registers the function called when a held grant is revoked. It
// runs on whatever goroutine the provider delivers the change on, with no
// coordinator lock held.
func (c *Coordinator) OnLoss(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLoss = f
}

// SetEnabled toggles focus management for later requests.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// SetDucking toggles whether later grants are duckable.
func (c *Coordinator) SetDucking(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mayDuck = enabled
}

// State returns the current grant state.
func (c *Coordinator) State() domain.FocusState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Abandons returns how many grants have been handed back to the provider.
func (c *Coordinator) Abandons() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandons
}

// Request asks for a transient grant for usage. Failed and delayed
// outcomes return ErrFocusDenied; delayed grants are not accepted and are
// handed straight back. Requesting while a grant is held returns
// ErrFocusHeld.
func (c *Coordinator) Request(ctx context.Context, usage domain.Usage) (domain.FocusState, error) {
	c.mu.Lock()
	if c.state == domain.FocusGranted || c.requesting {
		c.mu.Unlock()
		return domain.FocusGranted, domain.ErrFocusHeld
	}
	if !c.enabled {
		c.state = domain.FocusGranted
		c.viaProvider = false
		c.mu.Unlock()
		c.log.Debug("focus: management disabled, granting locally")
		return domain.FocusGranted, nil
	}
	c.gen++
	gen := c.gen
	c.requesting = true
	c.lostEarly = false
	req := domain.FocusRequest{Usage: usage, MayDuck: c.mayDuck}
	c.mu.Unlock()

	st, err := c.provider.Request(req, func(ch domain.FocusChange) { c.handleChange(gen, ch) })

	c.mu.Lock()
	c.requesting = false
	if err == nil && st == domain.FocusGranted && !c.lostEarly {
		c.state = domain.FocusGranted
		c.viaProvider = true
		c.mu.Unlock()
		c.log.Debug("focus: granted (usage=%s, duck=%v)", usage, req.MayDuck)
		c.waitForDucking(ctx)
		return domain.FocusGranted, nil
	}
	lostEarly := c.lostEarly
	c.state = domain.FocusNone
	c.mu.Unlock()

	switch {
	case err != nil:
		c.log.Warn("focus: request failed: %v", err)
		return domain.FocusFailed, fmt.Errorf("%w: %v", domain.ErrFocusDenied, err)
	case st == domain.FocusDelayed, lostEarly:
		if aerr := c.provider.Abandon(); aerr != nil {
			c.log.Warn("focus: abandoning %s request: %v", st, aerr)
		}
		c.log.Info("focus: not accepting %s grant", st)
		return st, fmt.Errorf("%w: %s", domain.ErrFocusDenied, st)
	default:
		c.log.Info("focus: request %s", st)
		return st, fmt.Errorf("%w: %s", domain.ErrFocusDenied, st)
	}
}

func (c *Coordinator) waitForDucking(ctx context.Context) {
	ma, ok := c.provider.(domain.MusicActivity)
	if !ok || c.settle <= 0 || !ma.MusicActive() {
		return
	}
	c.log.Debug("focus: other audio active, waiting %s for it to duck", c.settle)
	t := time.NewTimer(c.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Coordinator) handleChange(gen uint64, ch domain.FocusChange) {
	if !ch.IsLoss() {
		c.log.Debug("focus: %s", ch)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.requesting {
		c.lostEarly = true
		c.mu.Unlock()
		return
	}
	if c.state != domain.FocusGranted {
		c.mu.Unlock()
		return
	}
	onLoss := c.onLoss
	c.mu.Unlock()

	c.log.Info("focus: lost (%s), stopping speech", ch)
	if onLoss != nil {
		onLoss()
	}
}

// Abandon releases the held grant. Only the first call per grant reaches
// the provider; later calls and calls without a grant are no-ops.
func (c *Coordinator) Abandon() error {
	c.mu.Lock()
	if c.state != domain.FocusGranted {
		c.mu.Unlock()
		return nil
	}
	via := c.viaProvider
	c.state = domain.FocusNone
	c.viaProvider = false
	if via {
		c.abandons++
	}
	c.mu.Unlock()

	if !via {
		return nil
	}
	c.log.Debug("focus: abandoned")
	return c.provider.Abandon()
}
