package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// barColors are the classic 75% SMPTE color bars.
var barColors = []color.RGBA{
	{191, 191, 191, 255}, // gray
	{191, 191, 0, 255},   // yellow
	{0, 191, 191, 255},   // cyan
	{0, 191, 0, 255},     // green
	{191, 0, 191, 255},   // magenta
	{191, 0, 0, 255},     // red
	{0, 0, 191, 255},     // blue
}

// Mock is a Camera that renders a color-bar test pattern.
// Used for development on a PC or testing.
type Mock struct {
	Width  int
	Height int
	Deny   bool // simulate permission denied
	opened atomic.Int32
	closed atomic.Int32
}

// NewMock creates a mock camera producing width x height frames.
func NewMock(width, height int, deny bool) *Mock {
	debug.Info("Using MOCK camera (%dx%d, deny=%v)", width, height, deny)
	return &Mock{Width: width, Height: height, Deny: deny}
}

// Open returns a stream serving the test pattern. The facing mode requested
// is reported back as obtained.
func (m *Mock) Open(ctx context.Context, facing FacingMode) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if m.Deny {
		debug.Live("Mock camera: access denied")
		return nil, fmt.Errorf("%w: permission denied (mock)", ErrDeviceUnavailable)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid mock resolution %dx%d", ErrDeviceUnavailable, m.Width, m.Height)
	}
	m.opened.Add(1)
	debug.Live("Mock camera: opened (%s)", facingLabel(facing))
	return &mockStream{
		cam:    m,
		facing: facing,
		frame:  ColorBars(m.Width, m.Height),
	}, nil
}

// Opened returns how many streams have been opened.
func (m *Mock) Opened() int { return int(m.opened.Load()) }

// Closed returns how many streams have been released.
func (m *Mock) Closed() int { return int(m.closed.Load()) }

type mockStream struct {
	cam    *Mock
	facing FacingMode
	frame  *image.RGBA
	once   sync.Once
}

func (s *mockStream) Frame() (image.Image, bool) {
	return s.frame, true
}

func (s *mockStream) Facing() FacingMode { return s.facing }

func (s *mockStream) Close() error {
	s.once.Do(func() {
		s.cam.closed.Add(1)
		debug.Trace("Mock camera: stream closed")
	})
	return nil
}

// ColorBars renders a width x height image of vertical color bars.
func ColorBars(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		c := barColors[x*len(barColors)/width]
		for y := 0; y < height; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func facingLabel(f FacingMode) string {
	if f == FacingAny {
		return "any"
	}
	return string(f)
}
