package web

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
	"github.com/cjeanneret/SnapGo/internal/logic/imaging"
)

// statusClientClosedRequest reports a request abandoned by the client
// (nginx convention).
const statusClientClosedRequest = 499

// Controller is the capture session driven by the handlers.
// *capture.Controller implements it.
type Controller interface {
	Start(ctx context.Context) error
	Capture() (*capture.Image, error)
	Stop() error
	Download(sink capture.Sink) error
	Image() *capture.Image
	Frame() (image.Image, bool)
	State() capture.State
}

// UIConfig holds values the page needs at load time (from config).
type UIConfig struct {
	PreferredFacing string `json:"preferred_facing"`
	PreviewFPS      int    `json:"preview_fps"`
	Filename        string `json:"filename"`
}

// PreviewConfig tunes the live preview websocket.
type PreviewConfig struct {
	Interval    time.Duration // delay between two frames
	MaxWidth    int           // frames wider than this are scaled down
	JPEGQuality int
}

// StateView is the JSON form of capture.State.
type StateView struct {
	Mode      string     `json:"mode"`
	Starting  bool       `json:"starting"`
	SessionID string     `json:"session_id,omitempty"`
	Facing    string     `json:"facing,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	HasImage  bool       `json:"has_image"`
}

// NewStateView converts a controller state for JSON output.
func NewStateView(st capture.State) StateView {
	v := StateView{
		Mode:      st.Mode.String(),
		Starting:  st.Starting,
		SessionID: st.SessionID,
		Facing:    string(st.Facing),
		HasImage:  st.HasImage,
	}
	if st.Mode == capture.Live {
		started := st.StartedAt
		v.StartedAt = &started
	}
	return v
}

// ImageView is the JSON form of a captured image.
type ImageView struct {
	ID         string    `json:"id"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Filename   string    `json:"filename"`
	CapturedAt time.Time `json:"captured_at"`
	DataURI    string    `json:"data_uri"`
}

// NewImageView converts a captured image for JSON output.
func NewImageView(img *capture.Image) ImageView {
	return ImageView{
		ID:         img.ID,
		Width:      img.Width,
		Height:     img.Height,
		Filename:   img.Filename,
		CapturedAt: img.CapturedAt,
		DataURI:    img.DataURI(),
	}
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Session     Controller
	UI          UIConfig
	Preview     PreviewConfig
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, session Controller, ui UIConfig, preview PreviewConfig, staticFS fs.FS) *Handlers {
	if preview.Interval <= 0 {
		preview.Interval = 100 * time.Millisecond
	}
	if preview.JPEGQuality <= 0 {
		preview.JPEGQuality = 75
	}
	return &Handlers{
		Broadcaster: broadcaster,
		Session:     session,
		UI:          ui,
		Preview:     preview,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HandleConfig returns the page settings (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.UI)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewStateView(h.Session.State()))
}

// HandleStart handles POST /camera/start.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	err := h.Session.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, NewStateView(h.Session.State()))
	case errors.Is(err, capture.ErrStartInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		debug.Verbose("camera start abandoned by client: %v", err)
		writeError(w, statusClientClosedRequest, err)
	case errors.Is(err, capture.ErrDeviceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		log.Printf("camera start failed: %v", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

// HandleCapture handles POST /camera/capture.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	img, err := h.Session.Capture()
	switch {
	case err == nil && img == nil:
		writeError(w, http.StatusConflict, errors.New("camera is not live"))
	case err == nil:
		writeJSON(w, http.StatusOK, NewImageView(img))
	case errors.Is(err, capture.ErrNoFrame):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		log.Printf("capture failed: %v", err)
		h.Broadcaster.Broadcast("error", "Capture failed: "+err.Error())
		writeError(w, http.StatusInternalServerError, err)
	}
}

// HandleStop handles POST /camera/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Stop(); err != nil {
		log.Printf("camera stop: %v", err)
		h.Broadcaster.Broadcast("error", "Camera release failed: "+err.Error())
	}
	writeJSON(w, http.StatusOK, NewStateView(h.Session.State()))
}

// HandleImage handles GET /image: the last captured image as JSON.
func (h *Handlers) HandleImage(w http.ResponseWriter, r *http.Request) {
	img := h.Session.Image()
	if img == nil {
		writeError(w, http.StatusNotFound, errors.New("no image captured"))
		return
	}
	writeJSON(w, http.StatusOK, NewImageView(img))
}

// HandleDownload handles GET /image/download: the last captured image as
// a file attachment.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	sink := &httpSink{w: w}
	if err := h.Session.Download(sink); err != nil {
		log.Printf("download failed: %v", err)
		if !sink.called {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	if !sink.called {
		writeError(w, http.StatusNotFound, errors.New("no image captured"))
	}
}

// httpSink answers a request with the image as an attachment.
type httpSink struct {
	w      http.ResponseWriter
	called bool
}

func (s *httpSink) Save(dataURI, filename string) error {
	mimeType, payload, err := imaging.ParseDataURI(dataURI)
	if err != nil {
		return err
	}
	s.called = true
	h := s.w.Header()
	h.Set("Content-Type", mimeType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	h.Set("Content-Length", strconv.Itoa(len(payload)))
	h.Set("Cache-Control", "no-store")
	s.w.WriteHeader(http.StatusOK)
	_, err = s.w.Write(payload)
	return err
}

// HandleLive handles GET /camera/live: a websocket pushing JPEG preview
// frames while the camera is live.
func (h *Handlers) HandleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("live preview upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client messages; a read error means the client went away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.Preview.Interval)
	defer ticker.Stop()

	debug.Verbose("live preview client connected")
	for {
		select {
		case <-closed:
			debug.Verbose("live preview client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, ok := h.Session.Frame()
		if !ok {
			continue
		}
		data, err := imaging.EncodeJPEG(imaging.Thumbnail(frame, h.Preview.MaxWidth), h.Preview.JPEGQuality)
		if err != nil {
			debug.Error(err)
			continue
		}
		if debug.IsEnabled(debug.LevelTrace) {
			b := frame.Bounds()
			debug.Trace("preview frame %dx%d -> %d bytes JPEG", b.Dx(), b.Dy(), len(data))
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
