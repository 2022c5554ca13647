package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/SnapGo/internal/logic/capture"
)

// Event kinds sent on the status stream.
const (
	KindLog          = "log"
	KindNotification = "notification"
	KindState        = "state"
)

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string     `json:"t"`
	Kind  string     `json:"kind"`
	Level string     `json:"l,omitempty"`
	Title string     `json:"title,omitempty"`
	Msg   string     `json:"msg,omitempty"`
	State *StateView `json:"state,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
// It also implements capture.Notifier.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Broadcast sends a log message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","kind":"log","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Kind: KindLog, Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Notify sends a user notification (shown as a toast by the page).
func (b *StatusBroadcaster) Notify(n capture.Notification) {
	b.publish(StatusEvent{
		Kind:  KindNotification,
		Level: string(n.Severity),
		Title: n.Title,
		Msg:   n.Message,
	})
}

// PublishState sends the current session state.
func (b *StatusBroadcaster) PublishState(st capture.State) {
	view := NewStateView(st)
	b.publish(StatusEvent{Kind: KindState, State: &view})
}

func (b *StatusBroadcaster) publish(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
