package focus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// Compile-time interface checks.
var (
	_ domain.FocusProvider = (*Arbiter)(nil)
	_ domain.MusicActivity = (*Arbiter)(nil)
)

// Grant is the arbiter's record of one held focus grant.
type Grant struct {
	ID      uuid.UUID
	Request domain.FocusRequest
}

// Arbiter is an in-process focus service for a single client. Other audio
// is simulated with Block (refuse or delay requests), Preempt (revoke the
// current grant) and SetMusicActive.
type Arbiter struct {
	log *logger.Logger

	mu       sync.Mutex
	holder   *Grant
	onChange func(domain.FocusChange)
	blocked  domain.FocusState // FocusNone when requests are granted
	music    bool
	grants   int
	abandons int
}

// NewArbiter creates an arbiter that grants every request.
func NewArbiter(log *logger.Logger) *Arbiter {
	return &Arbiter{log: log}
}

// Request grants focus unless the arbiter is blocked, in which case the
// blocking result (Failed or Delayed) is returned.
func (a *Arbiter) Request(req domain.FocusRequest, onChange func(domain.FocusChange)) (domain.FocusState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.blocked != domain.FocusNone {
		a.log.Debug("arbiter: request blocked (%s)", a.blocked)
		return a.blocked, nil
	}
	g := &Grant{ID: uuid.New(), Request: req}
	a.holder = g
	a.onChange = onChange
	a.grants++
	a.log.Debug("arbiter: granted %s (usage=%s, duck=%v)", g.ID, req.Usage, req.MayDuck)
	return domain.FocusGranted, nil
}

// Abandon releases the current grant, if any.
func (a *Arbiter) Abandon() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.abandons++
	if a.holder != nil {
		a.log.Debug("arbiter: %s abandoned", a.holder.ID)
	}
	a.holder = nil
	a.onChange = nil
	return nil
}

// Preempt simulates higher-priority audio taking focus. Permanent and
// transient losses drop the grant; a duckable loss leaves it held. The
// holder's callback runs on the calling goroutine after the arbiter lock
// is released. Reports whether a grant was held.
func (a *Arbiter) Preempt(change domain.FocusChange) bool {
	a.mu.Lock()
	g, cb := a.holder, a.onChange
	if change != domain.FocusLossTransientCanDuck {
		a.holder = nil
		a.onChange = nil
	}
	a.mu.Unlock()

	if g == nil || cb == nil {
		return false
	}
	a.log.Debug("arbiter: preempting %s (%s)", g.ID, change)
	cb(change)
	return true
}

// Block makes later requests return result (FocusFailed or FocusDelayed).
// FocusNone unblocks.
func (a *Arbiter) Block(result domain.FocusState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked = result
}

// SetMusicActive records whether other audio is playing.
func (a *Arbiter) SetMusicActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.music = active
}

// MusicActive reports whether other audio is playing.
func (a *Arbiter) MusicActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.music
}

// Holder returns the current grant.
func (a *Arbiter) Holder() (Grant, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == nil {
		return Grant{}, false
	}
	return *a.holder, true
}

// Stats returns how many grants were issued and abandon calls received.
func (a *Arbiter) Stats() (grants, abandons int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.grants, a.abandons
}
