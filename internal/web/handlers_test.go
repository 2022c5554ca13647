package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/SnapGo/internal/hw/camera"
	"github.com/cjeanneret/SnapGo/internal/logic/capture"
	"github.com/cjeanneret/SnapGo/internal/logic/imaging"
)

// ---------- Handler helpers ----------

func newTestHandlers(session Controller) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		session,
		UIConfig{PreferredFacing: "environment", PreviewFPS: 10, Filename: capture.DefaultFilename},
		PreviewConfig{Interval: 5 * time.Millisecond, MaxWidth: 32, JPEGQuality: 75},
		staticFS,
	)
}

func newMockController(deny bool) *capture.Controller {
	return capture.NewController(camera.NewMock(64, 48, deny), nil, camera.FacingEnvironment)
}

func do(h http.HandlerFunc, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) StateView {
	t.Helper()
	var v StateView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return v
}

// stubController returns canned results, for error paths the real
// controller cannot reach with the mock camera.
type stubController struct {
	startErr   error
	captureImg *capture.Image
	captureErr error
	stopErr    error
	image      *capture.Image
	state      capture.State
}

func (s *stubController) Start(ctx context.Context) error { return s.startErr }
func (s *stubController) Capture() (*capture.Image, error) { return s.captureImg, s.captureErr }
func (s *stubController) Stop() error { return s.stopErr }
func (s *stubController) Image() *capture.Image { return s.image }
func (s *stubController) Frame() (image.Image, bool) { return nil, false }
func (s *stubController) State() capture.State { return s.state }
func (s *stubController) Download(sink capture.Sink) error {
	if s.image == nil {
		return nil
	}
	return sink.Save(s.image.DataURI(), s.image.Filename)
}

// ---------- HandleState ----------

func TestHandleState_Idle(t *testing.T) {
	h := newTestHandlers(newMockController(false))
	w := do(h.HandleState, http.MethodGet, "/state")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	v := decodeState(t, w)
	if v.Mode != "idle" || v.HasImage || v.SessionID != "" || v.StartedAt != nil {
		t.Errorf("state = %+v, want idle without session or image", v)
	}
}

// ---------- HandleStart ----------

func TestHandleStart_GoesLive(t *testing.T) {
	h := newTestHandlers(newMockController(false))
	w := do(h.HandleStart, http.MethodPost, "/camera/start")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	v := decodeState(t, w)
	if v.Mode != "live" {
		t.Errorf("mode = %q, want live", v.Mode)
	}
	if v.SessionID == "" {
		t.Error("expected a session id")
	}
	if v.Facing != "environment" {
		t.Errorf("facing = %q, want environment", v.Facing)
	}
	if v.StartedAt == nil {
		t.Error("expected started_at while live")
	}
}

func TestHandleStart_DeniedIsServiceUnavailable(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	ctrl := capture.NewController(camera.NewMock(64, 48, true), b, camera.FacingEnvironment)
	h := newTestHandlers(ctrl)
	h.Broadcaster = b

	w := do(h.HandleStart, http.MethodPost, "/camera/start")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if ctrl.State().Mode != capture.Idle {
		t.Error("controller should stay idle after denied start")
	}

	evt := receive(t, ch)
	if evt.Kind != KindNotification || evt.Level != "destructive" || evt.Msg != "Could not access camera" {
		t.Errorf("notification = %+v", evt)
	}
}

// slowCamera never delivers a stream before ctx ends.
type slowCamera struct{}

func (slowCamera) Open(ctx context.Context, _ camera.FacingMode) (camera.Stream, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %v", camera.ErrDeviceUnavailable, ctx.Err())
}

func TestHandleStart_AbandonedRequestDoesNotNotify(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	ctrl := capture.NewController(slowCamera{}, b, camera.FacingEnvironment)
	h := newTestHandlers(ctrl)
	h.Broadcaster = b

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/camera/start", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.HandleStart(w, req)

	if w.Code != statusClientClosedRequest {
		t.Errorf("status = %d, want %d", w.Code, statusClientClosedRequest)
	}
	if ctrl.State().Mode != capture.Idle {
		t.Error("controller should stay idle")
	}
	select {
	case msg := <-ch:
		t.Errorf("unexpected broadcast: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleStart_InProgressIsConflict(t *testing.T) {
	h := newTestHandlers(&stubController{startErr: capture.ErrStartInProgress})
	w := do(h.HandleStart, http.MethodPost, "/camera/start")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestHandleStart_OtherErrorIsInternal(t *testing.T) {
	h := newTestHandlers(&stubController{startErr: errors.New("boom")})
	w := do(h.HandleStart, http.MethodPost, "/camera/start")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

// ---------- HandleCapture ----------

func TestHandleCapture_IdleIsConflict(t *testing.T) {
	h := newTestHandlers(newMockController(false))
	w := do(h.HandleCapture, http.MethodPost, "/camera/capture")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestHandleCapture_ReturnsImage(t *testing.T) {
	ctrl := newMockController(false)
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h := newTestHandlers(ctrl)

	w := do(h.HandleCapture, http.MethodPost, "/camera/capture")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var v ImageView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Width != 64 || v.Height != 48 {
		t.Errorf("size = %dx%d, want 64x48", v.Width, v.Height)
	}
	if v.Filename != "screenshot.png" {
		t.Errorf("filename = %q, want screenshot.png", v.Filename)
	}
	if !strings.HasPrefix(v.DataURI, "data:image/png;base64,") {
		t.Errorf("data_uri prefix = %.30q", v.DataURI)
	}
}

func TestHandleCapture_NoFrameIsServiceUnavailable(t *testing.T) {
	h := newTestHandlers(&stubController{captureErr: capture.ErrNoFrame})
	w := do(h.HandleCapture, http.MethodPost, "/camera/capture")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleCapture_RenderErrorIsInternal(t *testing.T) {
	h := newTestHandlers(&stubController{captureErr: errors.New("render frame: empty")})
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w := do(h.HandleCapture, http.MethodPost, "/camera/capture")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	evt := receive(t, ch)
	if evt.Level != "error" {
		t.Errorf("level = %q, want error", evt.Level)
	}
}

// ---------- HandleStop ----------

func TestHandleStop_ReturnsIdleAndKeepsImage(t *testing.T) {
	ctrl := newMockController(false)
	ctrl.Start(context.Background())
	if _, err := ctrl.Capture(); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	h := newTestHandlers(ctrl)

	w := do(h.HandleStop, http.MethodPost, "/camera/stop")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	v := decodeState(t, w)
	if v.Mode != "idle" || !v.HasImage {
		t.Errorf("state = %+v, want idle with image", v)
	}
}

func TestHandleStop_IdleIsOK(t *testing.T) {
	h := newTestHandlers(newMockController(false))
	w := do(h.HandleStop, http.MethodPost, "/camera/stop")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// ---------- HandleImage / HandleDownload ----------

func TestHandleImage_NoneIsNotFound(t *testing.T) {
	h := newTestHandlers(newMockController(false))
	w := do(h.HandleImage, http.MethodGet, "/image")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleDownload_NoneIsNotFound(t *testing.T) {
	h := newTestHandlers(newMockController(false))
	w := do(h.HandleDownload, http.MethodGet, "/image/download")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleDownload_Attachment(t *testing.T) {
	ctrl := newMockController(false)
	ctrl.Start(context.Background())
	img, err := ctrl.Capture()
	if err != nil || img == nil {
		t.Fatalf("Capture: %v, %v", img, err)
	}
	ctrl.Stop()
	h := newTestHandlers(ctrl)

	w := do(h.HandleDownload, http.MethodGet, "/image/download")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != "attachment; filename=screenshot.png" {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !bytes.Equal(w.Body.Bytes(), img.PNG) {
		t.Error("body differs from captured PNG")
	}
}

func TestHTTPSink_InvalidDataURI(t *testing.T) {
	sink := &httpSink{w: httptest.NewRecorder()}
	if err := sink.Save("not a data uri", "x.png"); err == nil {
		t.Fatal("expected error for invalid data URI")
	}
	if sink.called {
		t.Error("sink should not be marked called on parse error")
	}
}

// ---------- HandleLive ----------

func TestHandleLive_StreamsJPEGFrames(t *testing.T) {
	ctrl := newMockController(false)
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Stop()
	h := newTestHandlers(ctrl)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleLive))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", typ)
	}
	frame, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if w := frame.Bounds().Dx(); w != 32 {
		t.Errorf("preview width = %d, want 32", w)
	}
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(newMockController(false))
	w := do(h.HandleConfig, http.MethodGet, "/config")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var cfg UIConfig
	if err := json.NewDecoder(w.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.PreferredFacing != "environment" || cfg.PreviewFPS != 10 || cfg.Filename != "screenshot.png" {
		t.Errorf("config = %+v", cfg)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(newMockController(false))
	w := do(h.ServeIndex, http.MethodGet, "/")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.String() != "<html>test</html>" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestEmbeddedIndex_UsesConfigRoute(t *testing.T) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		t.Fatalf("read embedded index: %v", err)
	}
	page := string(data)
	for _, want := range []string{"fetch('/config')", "ui.filename", "ui.preview_fps"} {
		if !strings.Contains(page, want) {
			t.Errorf("index.html does not use %q", want)
		}
	}
}

// ---------- Server routes ----------

func TestServerMux_Routes(t *testing.T) {
	s := NewServer(":0", NewStatusBroadcaster(), newMockController(false), UIConfig{}, PreviewConfig{})
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/state", http.StatusOK},
		{http.MethodGet, "/image", http.StatusNotFound},
		{http.MethodGet, "/camera/start", http.StatusMethodNotAllowed},
		{http.MethodPost, "/camera/capture", http.StatusConflict},
		{http.MethodPost, "/camera/start", http.StatusOK},
		{http.MethodPost, "/camera/capture", http.StatusOK},
		{http.MethodGet, "/image", http.StatusOK},
		{http.MethodGet, "/image/download", http.StatusOK},
		{http.MethodPost, "/camera/stop", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestNewImageView(t *testing.T) {
	img := &capture.Image{ID: "a", Width: 2, Height: 1, PNG: []byte{1, 2}, Filename: "screenshot.png"}
	v := NewImageView(img)
	if v.DataURI != imaging.DataURI(imaging.MIMEPNG, []byte{1, 2}) {
		t.Errorf("data uri = %q", v.DataURI)
	}
}
