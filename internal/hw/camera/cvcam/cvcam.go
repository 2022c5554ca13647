// Package cvcam opens local video devices through OpenCV (gocv).
//
// It lives outside package camera so that only the binary links OpenCV;
// everything else, tests included, builds against the camera interfaces.
package cvcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

// retryDelay is the pause after a failed read before trying again.
const retryDelay = 10 * time.Millisecond

// Camera opens gocv.VideoCapture devices.
type Camera struct {
	devices []camera.Device
	width   int
	height  int
	warmup  time.Duration
}

// New creates a gocv camera. width and height are requested from the device,
// which may pick its closest supported mode. warmup bounds the wait for the
// first frame after opening.
func New(devices []camera.Device, width, height int, warmup time.Duration) *Camera {
	debug.Info("Using gocv camera driver (%d device(s) configured)", len(devices))
	return &Camera{
		devices: devices,
		width:   width,
		height:  height,
		warmup:  warmup,
	}
}

// Open tries devices matching facing first, then any other configured device.
func (c *Camera) Open(ctx context.Context, facing camera.FacingMode) (camera.Stream, error) {
	var errs []error
	for _, dev := range camera.OrderDevices(c.devices, facing) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		s, err := c.open(ctx, dev)
		if err == nil {
			return s, nil
		}
		debug.Live("Camera: device %d (%s) unavailable: %v", dev.ID, dev.Label, err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %v", camera.ErrDeviceUnavailable, errors.Join(errs...))
}

func (c *Camera) open(ctx context.Context, dev camera.Device) (*stream, error) {
	debug.Verbose("Camera: opening device %d (%s)", dev.ID, dev.Label)
	vc, err := gocv.OpenVideoCapture(dev.ID)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", dev.ID, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("open device %d: not opened", dev.ID)
	}
	if c.width > 0 && c.height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}

	s := &stream{
		vc:     vc,
		device: dev,
		ready:  make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()

	timer := time.NewTimer(c.warmup)
	defer timer.Stop()
	select {
	case <-s.ready:
		img, _ := s.Frame()
		b := img.Bounds()
		debug.Info("Camera: device %d live at %dx%d", dev.ID, b.Dx(), b.Dy())
		return s, nil
	case <-timer.C:
		_ = s.Close()
		return nil, fmt.Errorf("device %d: no frame within %v", dev.ID, c.warmup)
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
}

// stream keeps the latest decoded frame of an open device, the way a
// playing <video> element always shows the current picture.
type stream struct {
	vc     *gocv.VideoCapture
	device camera.Device

	mu     sync.RWMutex
	latest image.Image

	readyOnce sync.Once
	ready     chan struct{}
	stop      chan struct{}
	done      chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *stream) run() {
	defer close(s.done)

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			debug.Trace("Camera: device %d read returned no frame", s.device.ID)
			time.Sleep(retryDelay)
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			debug.Trace("Camera: device %d frame conversion failed: %v", s.device.ID, err)
			continue
		}

		s.mu.Lock()
		s.latest = img
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })
	}
}

func (s *stream) Frame() (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest != nil
}

func (s *stream) Facing() camera.FacingMode { return s.device.Facing }

// Close stops the reader goroutine, then releases the device.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.closeErr = s.vc.Close()
		debug.Live("Camera: device %d released", s.device.ID)
	})
	return s.closeErr
}
