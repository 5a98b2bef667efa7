package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/capscan/internal/fault"
	"github.com/cjeanneret/capscan/internal/logic/capture"
	"github.com/cjeanneret/capscan/internal/logic/decode"
	"github.com/cjeanneret/capscan/internal/logic/session"
)

// StatusEvent represents a single status message for SSE.
// Log lines carry only Msg; session events also carry Event and Data.
type StatusEvent struct {
	Time  string      `json:"t"`
	Level string      `json:"l,omitempty"`
	Event string      `json:"e,omitempty"` // "transition", "captured", "scanned"
	Msg   string      `json:"msg"`
	Data  interface{} `json:"d,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
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

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastEvent sends a typed session event with a JSON payload.
func (b *StatusBroadcaster) BroadcastEvent(level, event, msg string, data interface{}) {
	b.send(StatusEvent{Level: level, Event: event, Msg: msg, Data: data})
}

func (b *StatusBroadcaster) send(evt StatusEvent) {
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

// transitionEvent is the payload of a "transition" event.
type transitionEvent struct {
	Attempt string        `json:"attempt"`
	Mode    session.Mode  `json:"mode"`
	From    session.State `json:"from"`
	To      session.State `json:"to"`
	Error   *errorBody    `json:"error,omitempty"`
}

// TransitionObserver returns a session observer that forwards every state
// change to SSE clients.
func TransitionObserver(b *StatusBroadcaster) func(session.Transition) {
	return func(t session.Transition) {
		evt := transitionEvent{Attempt: t.Attempt, Mode: t.Mode, From: t.From, To: t.To}
		level := "info"
		if t.To == session.Failed && t.Err != nil {
			body := newErrorBody(t.Err)
			evt.Error = &body
			level = "error"
		}
		b.BroadcastEvent(level, "transition", t.From.String()+" -> "+t.To.String(), evt)
	}
}

// Consumer returns a session consumer that announces results to SSE
// clients. Image bytes are not pushed; clients fetch /session/image.
func Consumer(b *StatusBroadcaster) session.Consumer {
	return session.ConsumerFuncs{
		Captured: func(img capture.Image) {
			b.BroadcastEvent("info", "captured", "Image captured", newImageView(img))
		},
		Scanned: func(res decode.Result) {
			b.BroadcastEvent("info", "scanned", string(res.Format)+": "+res.Text, res)
		},
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

// errorBody is the JSON shape of a session failure.
type errorBody struct {
	Kind        fault.Kind `json:"kind"`
	Message     string     `json:"message"`
	Recoverable bool       `json:"recoverable"`
	Detail      string     `json:"detail,omitempty"`
}

func newErrorBody(err error) errorBody {
	k := fault.KindOf(err)
	return errorBody{
		Kind:        k,
		Message:     fault.Message(k),
		Recoverable: fault.Recoverable(k),
		Detail:      err.Error(),
	}
}
