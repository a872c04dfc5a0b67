package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Action is one browser step the pacer wraps with delays.
type Action func(ctx context.Context) error

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Pacer inserts randomized human-like pauses around browser input.
type Pacer struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	sleep Sleeper
}

// NewPacer returns a Pacer seeded from the runtime's random source.
func NewPacer() *Pacer {
	return NewPacerWith(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), sleepContext)
}

// NewPacerWith builds a Pacer with an explicit source and sleeper.
func NewPacerWith(rnd *rand.Rand, sleep Sleeper) *Pacer {
	return &Pacer{rnd: rnd, sleep: sleep}
}

// Intn returns a pseudo-random number in [0, n).
func (p *Pacer) Intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.IntN(n)
}

// Between picks a duration in [min, max] with millisecond granularity.
func (p *Pacer) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64((max - min) / time.Millisecond)
	p.mu.Lock()
	n := p.rnd.Int64N(span + 1)
	p.mu.Unlock()
	return min + time.Duration(n)*time.Millisecond
}

// Delay sleeps for a random duration in [min, max].
func (p *Pacer) Delay(ctx context.Context, min, max time.Duration) error {
	return p.sleep(ctx, p.Between(min, max))
}

// Type focuses the field, then sends text one character at a time with a
// jittered pause after each character.
func (p *Pacer) Type(ctx context.Context, focus Action, key func(ctx context.Context, ch string) error, text string) error {
	if err := p.Delay(ctx, 100*time.Millisecond, 300*time.Millisecond); err != nil {
		return err
	}
	if err := focus(ctx); err != nil {
		return fmt.Errorf("focus field: %w", err)
	}
	if err := p.Delay(ctx, 50*time.Millisecond, 150*time.Millisecond); err != nil {
		return err
	}
	for _, r := range text {
		if err := key(ctx, string(r)); err != nil {
			return fmt.Errorf("type character: %w", err)
		}
		if err := p.Delay(ctx, 50*time.Millisecond, 150*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// Click waits 200-800ms and then clicks.
func (p *Pacer) Click(ctx context.Context, click Action) error {
	if err := p.Delay(ctx, 200*time.Millisecond, 800*time.Millisecond); err != nil {
		return err
	}
	return click(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
