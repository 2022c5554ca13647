package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/logic/imaging"
)

// Notification emitted when the camera cannot be opened.
var deviceUnavailableNotification = Notification{
	Severity: SeverityDestructive,
	Title:    "Error",
	Message:  "Could not access camera",
}

// Controller is the capture session state machine. It owns the active
// session, the last captured image and the Idle/Live mode; these only
// change through Start, Capture, Stop and Download.
// All methods are safe for concurrent use.
type Controller struct {
	camera   camera.Camera
	notifier Notifier
	facing   camera.FacingMode

	// OnChange, if set, is called after every state change, outside the lock.
	OnChange func(State)

	now func() time.Time

	mu       sync.Mutex
	session  *Session
	starting bool
	image    *Image
}

// NewController creates an Idle controller. facing is the preferred facing
// mode requested on Start. notifier may be nil.
func NewController(cam camera.Camera, notifier Notifier, facing camera.FacingMode) *Controller {
	return &Controller{
		camera:   cam,
		notifier: notifier,
		facing:   facing,
		now:      time.Now,
	}
}

// Start acquires the camera and moves the controller to Live.
//
// On failure the controller keeps its previous state, the error wraps
// ErrDeviceUnavailable and a single notification is sent. If ctx ends
// before the camera is acquired, the ctx error is returned and nothing is
// notified. A Start issued
// while another is waiting for the camera fails with ErrStartInProgress.
// Starting while Live replaces the session once the new one is acquired.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return ErrStartInProgress
	}
	c.starting = true
	c.mu.Unlock()

	debug.Live("Requesting camera (facing=%s)", facingOrAny(c.facing))
	stream, err := c.camera.Open(ctx, c.facing)
	if err == nil && stream == nil {
		err = errors.New("driver returned no stream")
	}

	c.mu.Lock()
	c.starting = false
	if err != nil && ctx.Err() != nil {
		// Caller gave up while the device was opening: not a device error.
		c.mu.Unlock()
		debug.Live("Camera start abandoned: %v", ctx.Err())
		return fmt.Errorf("start camera: %w", ctx.Err())
	}
	if err != nil {
		c.mu.Unlock()
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		debug.Error(err)
		c.notify(deviceUnavailableNotification)
		return fmt.Errorf("start camera: %w", err)
	}

	prev := c.session
	c.session = &Session{
		ID:        uuid.NewString(),
		Facing:    stream.Facing(),
		StartedAt: c.now(),
		stream:    stream,
	}
	state := c.stateLocked()
	c.mu.Unlock()

	if prev != nil {
		debug.Live("Replacing session %s", prev.ID)
		if err := prev.stream.Close(); err != nil {
			debug.Error(fmt.Errorf("release replaced camera: %w", err))
		}
	} else {
		debug.Transition(Idle.String(), Live.String())
	}
	c.changed(state)
	return nil
}

// Capture grabs the current frame of the live stream, renders it at its
// native resolution and stores it as PNG, replacing any previous image.
//
// While Idle it does nothing and returns (nil, nil). On error the previous
// image is kept.
func (c *Controller) Capture() (*Image, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		debug.Verbose("Capture ignored: camera idle")
		return nil, nil
	}

	frame, ok := c.session.stream.Frame()
	if !ok || frame == nil {
		c.mu.Unlock()
		return nil, ErrNoFrame
	}
	surface, err := imaging.Rasterize(frame)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("render frame: %w", err)
	}
	debug.Frame(surface.Bounds().Dx(), surface.Bounds().Dy())
	data, err := imaging.EncodePNG(surface)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	img := &Image{
		ID:         uuid.NewString(),
		Width:      surface.Bounds().Dx(),
		Height:     surface.Bounds().Dy(),
		PNG:        data,
		Filename:   DefaultFilename,
		CapturedAt: c.now(),
	}
	c.image = img
	state := c.stateLocked()
	c.mu.Unlock()

	debug.Image(img.Width, img.Height, len(img.PNG))
	c.changed(state)
	return img, nil
}

// Stop releases the camera and moves the controller to Idle. The captured
// image is kept. Stopping an Idle controller does nothing.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.session = nil
	state := c.stateLocked()
	c.mu.Unlock()

	err := s.stream.Close()
	debug.Transition(Live.String(), Idle.String())
	c.changed(state)
	if err != nil {
		return fmt.Errorf("release camera: %w", err)
	}
	return nil
}

// Download hands the captured image to sink under its suggested filename.
// Without an image it does nothing and sink is not called.
func (c *Controller) Download(sink Sink) error {
	img := c.Image()
	if img == nil {
		debug.Verbose("Download ignored: no image captured")
		return nil
	}
	if err := sink.Save(img.DataURI(), img.Filename); err != nil {
		return fmt.Errorf("save %s: %w", img.Filename, err)
	}
	debug.Live("Image %s saved as %s", img.ID, img.Filename)
	return nil
}

// Image returns the last captured image, or nil.
func (c *Controller) Image() *Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// Frame returns the current live frame for previews. ok is false while Idle
// or before the first frame.
func (c *Controller) Frame() (img image.Image, ok bool) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, false
	}
	return s.stream.Frame()
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{
		Mode:     Idle,
		Starting: c.starting,
		HasImage: c.image != nil,
	}
	if s := c.session; s != nil {
		st.Mode = Live
		st.SessionID = s.ID
		st.Facing = s.Facing
		st.StartedAt = s.StartedAt
	}
	return st
}

func (c *Controller) notify(n Notification) {
	if c.notifier != nil {
		c.notifier.Notify(n)
	}
}

func (c *Controller) changed(st State) {
	if c.OnChange != nil {
		c.OnChange(st)
	}
}

func facingOrAny(f camera.FacingMode) string {
	if f == camera.FacingAny {
		return "any"
	}
	return string(f)
}
