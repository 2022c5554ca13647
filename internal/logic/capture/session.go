package capture

import (
	"errors"
	"time"

	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/logic/imaging"
)

// DefaultFilename is the suggested name of every downloaded image.
const DefaultFilename = "screenshot.png"

var (
	// ErrDeviceUnavailable means camera access was denied or no camera exists.
	// It is the only error reported to the user through the Notifier.
	ErrDeviceUnavailable = camera.ErrDeviceUnavailable

	// ErrStartInProgress is returned by Start while another Start is
	// still waiting for the camera.
	ErrStartInProgress = errors.New("camera start already in progress")

	// ErrNoFrame is returned by Capture when the live stream has not
	// produced a displayable frame.
	ErrNoFrame = errors.New("no frame available")
)

// Mode is the session state of a Controller.
type Mode int

const (
	// Idle means no camera is held.
	Idle Mode = iota
	// Live means a camera stream is active.
	Live
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// Session is an active camera acquisition and its hardware claim.
type Session struct {
	ID        string
	Facing    camera.FacingMode
	StartedAt time.Time
	stream    camera.Stream
}

// Image is the most recent still frame, PNG encoded at the native
// resolution of the camera.
type Image struct {
	ID         string
	Width      int
	Height     int
	PNG        []byte
	Filename   string
	CapturedAt time.Time
}

// DataURI returns the image as a self-contained data:image/png;base64 URI.
func (i *Image) DataURI() string {
	return imaging.DataURI(imaging.MIMEPNG, i.PNG)
}

// State is a snapshot of a Controller.
type State struct {
	Mode      Mode
	Starting  bool
	SessionID string
	Facing    camera.FacingMode
	StartedAt time.Time
	HasImage  bool
}

// Severity of a user notification.
type Severity string

const (
	SeverityInfo        Severity = "info"
	SeverityDestructive Severity = "destructive"
)

// Notification is a user-visible message (a toast in the web UI).
type Notification struct {
	Severity Severity
	Title    string
	Message  string
}

// Notifier shows notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Sink saves an encoded image under a filename (browser download, disk...).
type Sink interface {
	Save(dataURI, filename string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(dataURI, filename string) error

// Save calls f(dataURI, filename).
func (f SinkFunc) Save(dataURI, filename string) error { return f(dataURI, filename) }
