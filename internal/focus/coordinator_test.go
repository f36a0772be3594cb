package focus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

func quietLog() *logger.Logger { return logger.New(logger.LevelOff, nil) }

func newCoordinator(opts ...Option) (*Coordinator, *Arbiter) {
	arb := NewArbiter(quietLog())
	opts = append([]Option{WithSettleDelay(0)}, opts...)
	return NewCoordinator(arb, quietLog(), opts...), arb
}

func TestRequestGranted(t *testing.T) {
	c, arb := newCoordinator()

	st, err := c.Request(context.Background(), domain.UsageNavigation)
	require.NoError(t, err)
	assert.Equal(t, domain.FocusGranted, st)
	assert.Equal(t, domain.FocusGranted, c.State())

	g, ok := arb.Holder()
	require.True(t, ok)
	assert.Equal(t, domain.UsageNavigation, g.Request.Usage)
	assert.True(t, g.Request.MayDuck, "grants are duckable by default")
}

func TestRequestDenied(t *testing.T) {
	tests := []struct {
		name  string
		block domain.FocusState
	}{
		{"failed", domain.FocusFailed},
		{"delayed", domain.FocusDelayed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, arb := newCoordinator()
			arb.Block(tt.block)

			st, err := c.Request(context.Background(), domain.UsageMedia)
			assert.ErrorIs(t, err, domain.ErrFocusDenied)
			assert.Equal(t, tt.block, st)
			assert.Equal(t, domain.FocusNone, c.State())

			// Back to None: a later request may succeed.
			arb.Block(domain.FocusNone)
			_, err = c.Request(context.Background(), domain.UsageMedia)
			assert.NoError(t, err)
		})
	}
}

type erroringProvider struct{ abandons int }

func (p *erroringProvider) Request(domain.FocusRequest, func(domain.FocusChange)) (domain.FocusState, error) {
	return domain.FocusFailed, errors.New("audio service down")
}
func (p *erroringProvider) Abandon() error { p.abandons++; return nil }

func TestRequestProviderError(t *testing.T) {
	p := &erroringProvider{}
	c := NewCoordinator(p, quietLog())
	_, err := c.Request(context.Background(), domain.UsageMedia)
	assert.ErrorIs(t, err, domain.ErrFocusDenied)
	assert.Equal(t, domain.FocusNone, c.State())
	assert.Zero(t, p.abandons)
}

func TestRequestWhileHeld(t *testing.T) {
	c, _ := newCoordinator()
	_, err := c.Request(context.Background(), domain.UsageMedia)
	require.NoError(t, err)

	_, err = c.Request(context.Background(), domain.UsageMedia)
	assert.ErrorIs(t, err, domain.ErrFocusHeld)
}

func TestAbandonOncePerGrant(t *testing.T) {
	c, arb := newCoordinator()
	_, err := c.Request(context.Background(), domain.UsageMedia)
	require.NoError(t, err)

	require.NoError(t, c.Abandon())
	require.NoError(t, c.Abandon())
	require.NoError(t, c.Abandon())

	_, abandons := arb.Stats()
	assert.Equal(t, 1, abandons)
	assert.Equal(t, 1, c.Abandons())
	assert.Equal(t, domain.FocusNone, c.State())
}

func TestAbandonWithoutGrant(t *testing.T) {
	c, arb := newCoordinator()
	require.NoError(t, c.Abandon())
	_, abandons := arb.Stats()
	assert.Zero(t, abandons)
}

func TestDisabledSkipsProvider(t *testing.T) {
	c, arb := newCoordinator(WithEnabled(false))
	arb.Block(domain.FocusFailed)

	st, err := c.Request(context.Background(), domain.UsageMedia)
	require.NoError(t, err)
	assert.Equal(t, domain.FocusGranted, st)
	require.NoError(t, c.Abandon())

	grants, abandons := arb.Stats()
	assert.Zero(t, grants)
	assert.Zero(t, abandons)
}

func TestSetDucking(t *testing.T) {
	c, arb := newCoordinator()
	c.SetDucking(false)
	_, err := c.Request(context.Background(), domain.UsageMedia)
	require.NoError(t, err)
	g, _ := arb.Holder()
	assert.False(t, g.Request.MayDuck)
}

func TestLossCallsOnLossFromForeignGoroutine(t *testing.T) {
	c, arb := newCoordinator()
	var losses atomic.Int32
	c.OnLoss(func() {
		losses.Add(1)
		// The stop path abandons focus from inside the callback.
		_ = c.Abandon()
	})

	_, err := c.Request(context.Background(), domain.UsageMedia)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		arb.Preempt(domain.FocusLoss)
	}()
	wg.Wait()

	assert.Equal(t, int32(1), losses.Load())
	assert.Equal(t, domain.FocusNone, c.State())
}

func TestLossAfterAbandonIgnored(t *testing.T) {
	c, arb := newCoordinator()
	var losses atomic.Int32
	c.OnLoss(func() { losses.Add(1) })

	_, err := c.Request(context.Background(), domain.UsageMedia)
	require.NoError(t, err)

	g, _ := arb.Holder()
	require.NotEqual(t, [16]byte{}, [16]byte(g.ID))

	// Capture the callback, abandon, then deliver a stale loss.
	arb.mu.Lock()
	cb := arb.onChange
	arb.mu.Unlock()
	require.NoError(t, c.Abandon())
	cb(domain.FocusLoss)

	assert.Zero(t, losses.Load())
}

func TestGainChangeIsNotALoss(t *testing.T) {
	c, arb := newCoordinator()
	var losses atomic.Int32
	c.OnLoss(func() { losses.Add(1) })
	_, err := c.Request(context.Background(), domain.UsageMedia)
	require.NoError(t, err)

	arb.mu.Lock()
	cb := arb.onChange
	arb.mu.Unlock()
	cb(domain.FocusGain)
	assert.Zero(t, losses.Load())
	assert.Equal(t, domain.FocusGranted, c.State())
}

// lossyProvider revokes the grant before Request returns.
type lossyProvider struct{ abandons int }

func (p *lossyProvider) Request(_ domain.FocusRequest, cb func(domain.FocusChange)) (domain.FocusState, error) {
	cb(domain.FocusLossTransient)
	return domain.FocusGranted, nil
}
func (p *lossyProvider) Abandon() error { p.abandons++; return nil }

func TestLossDuringRequestDenies(t *testing.T) {
	p := &lossyProvider{}
	c := NewCoordinator(p, quietLog())
	_, err := c.Request(context.Background(), domain.UsageMedia)
	assert.ErrorIs(t, err, domain.ErrFocusDenied)
	assert.Equal(t, 1, p.abandons)
	assert.Equal(t, domain.FocusNone, c.State())
}

func TestSettleDelayWhenMusicActive(t *testing.T) {
	arb := NewArbiter(quietLog())
	arb.SetMusicActive(true)
	c := NewCoordinator(arb, quietLog(), WithSettleDelay(30*time.Millisecond))

	start := time.Now()
	_, err := c.Request(context.Background(), domain.UsageMedia)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// A cancelled context cuts the wait short.
	require.NoError(t, c.Abandon())
	c2 := NewCoordinator(arb, quietLog(), WithSettleDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c2.Request(ctx, domain.UsageMedia)
	require.NoError(t, err)
}

func TestArbiterDuckableLossKeepsGrant(t *testing.T) {
	arb := NewArbiter(quietLog())
	var got []domain.FocusChange
	_, err := arb.Request(domain.FocusRequest{MayDuck: true}, func(ch domain.FocusChange) { got = append(got, ch) })
	require.NoError(t, err)

	assert.True(t, arb.Preempt(domain.FocusLossTransientCanDuck))
	_, held := arb.Holder()
	assert.True(t, held)

	assert.True(t, arb.Preempt(domain.FocusLoss))
	_, held = arb.Holder()
	assert.False(t, held)
	assert.False(t, arb.Preempt(domain.FocusLoss))

	assert.Equal(t, []domain.FocusChange{domain.FocusLossTransientCanDuck, domain.FocusLoss}, got)
}
