package camera

import (
	"context"
	"errors"
	"image"
)

// ErrDeviceUnavailable is returned by Open when access is denied or no
// camera can be opened.
var ErrDeviceUnavailable = errors.New("camera unavailable")

// FacingMode tells which way a camera points.
type FacingMode string

const (
	// FacingAny lets the driver pick its default camera.
	FacingAny FacingMode = ""
	// FacingEnvironment is a camera pointing away from the user (rear camera).
	FacingEnvironment FacingMode = "environment"
	// FacingUser is a camera pointing at the user (front camera).
	FacingUser FacingMode = "user"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how frames are obtained
// (OpenCV device, test pattern, etc.).
type Camera interface {
	// Open acquires a camera, preferring the given facing mode and falling
	// back to any available camera. It blocks until the stream delivered its
	// first frame or ctx is done. Failures wrap ErrDeviceUnavailable.
	Open(ctx context.Context, facing FacingMode) (Stream, error)
}

// Stream is a live acquisition. It holds the hardware until Close.
type Stream interface {
	// Frame returns the most recent frame at the device's native resolution.
	// The returned image must not be modified. ok is false until the first
	// frame arrived.
	Frame() (img image.Image, ok bool)

	// Facing reports the facing mode of the camera actually opened.
	Facing() FacingMode

	// Close releases the device. Further calls are no-ops.
	Close() error
}

// Device describes one physical camera a driver may open.
type Device struct {
	ID     int
	Facing FacingMode
	Label  string
}

// OrderDevices returns devices ordered for an Open request: those matching
// facing first, then the rest in configuration order. With no devices
// configured, device 0 of unknown facing is assumed.
func OrderDevices(devices []Device, facing FacingMode) []Device {
	if len(devices) == 0 {
		return []Device{{ID: 0, Label: "default"}}
	}
	ordered := make([]Device, 0, len(devices))
	if facing != FacingAny {
		for _, d := range devices {
			if d.Facing == facing {
				ordered = append(ordered, d)
			}
		}
	}
	for _, d := range devices {
		if facing == FacingAny || d.Facing != facing {
			ordered = append(ordered, d)
		}
	}
	return ordered
}
