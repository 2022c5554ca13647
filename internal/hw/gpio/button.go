package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Button is a push button wired between a GPIO pin and ground.
// The pin uses the internal pull-up, so it reads High when released
// and Low while pressed.
type Button struct {
	gpio     Driver
	pin      int
	poll     time.Duration
	debounce time.Duration
	now      func() time.Time
}

// NewButton configures pin as a pulled-up input.
// poll is the sampling period, debounce the minimum time between two presses.
func NewButton(g Driver, pin int, poll, debounce time.Duration) (*Button, error) {
	if poll <= 0 {
		return nil, fmt.Errorf("button poll period must be > 0, got %v", poll)
	}
	if err := g.SetupPin(pin, InputPullUp); err != nil {
		return nil, fmt.Errorf("setup button pin %d: %w", pin, err)
	}
	return &Button{
		gpio:     g,
		pin:      pin,
		poll:     poll,
		debounce: debounce,
		now:      time.Now,
	}, nil
}

// Watch samples the button until ctx is done and calls onPress on every
// press (High -> Low edge). Presses closer than the debounce period to the
// previous one are ignored. It returns nil when ctx is cancelled.
func (b *Button) Watch(ctx context.Context, onPress func()) error {
	prev, err := b.gpio.ReadPin(b.pin)
	if err != nil {
		return fmt.Errorf("read button pin %d: %w", b.pin, err)
	}
	var last time.Time

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	debug.Verbose("Button: watching pin %d (poll=%v, debounce=%v)", b.pin, b.poll, b.debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		level, err := b.gpio.ReadPin(b.pin)
		if err != nil {
			return fmt.Errorf("read button pin %d: %w", b.pin, err)
		}
		if prev == High && level == Low {
			now := b.now()
			if last.IsZero() || now.Sub(last) >= b.debounce {
				last = now
				debug.Live("Button: pressed (pin %d)", b.pin)
				onPress()
			} else {
				debug.Trace("Button: bounce ignored (pin %d)", b.pin)
			}
		}
		prev = level
	}
}

// LED is an indicator wired to an output pin, lit when High.
type LED struct {
	gpio Driver
	pin  int
}

// NewLED configures pin as an output and switches the LED off.
func NewLED(g Driver, pin int) (*LED, error) {
	if err := g.SetupPin(pin, Output); err != nil {
		return nil, fmt.Errorf("setup LED pin %d: %w", pin, err)
	}
	if err := g.WritePin(pin, Low); err != nil {
		return nil, fmt.Errorf("switch LED pin %d off: %w", pin, err)
	}
	return &LED{gpio: g, pin: pin}, nil
}

// Set switches the LED on or off.
func (l *LED) Set(on bool) error {
	return l.gpio.WritePin(l.pin, Level(on))
}
