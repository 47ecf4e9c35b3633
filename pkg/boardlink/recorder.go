package boardlink

import (
	"sync"

	"plotbot-go/pkg/errors"
)

// Responder produces the board's reply to one command, or nil for none.
type Responder func(cmd string) []byte

// Recorder is an in-memory Link. It logs every command sent and, when a
// Responder is set, queues that command's reply. A reply arrives on the next
// Available or ReadAvailable call, so a Flush issued straight after a Send
// does not discard it, as with a real board. Recorder backs dry runs, the
// preview tool and the tests.
type Recorder struct {
	mu       sync.Mutex
	sent     []string
	inflight []byte
	pending  []byte
	respond  Responder
	sendErr  error
	closed   bool
}

// NewRecorder returns a Recorder answering with respond, which may be nil.
func NewRecorder(respond Responder) *Recorder {
	return &Recorder{respond: respond}
}

// Send records cmd and queues any reply.
func (r *Recorder) Send(cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.LinkIOError("send "+CommandName(cmd), errClosed)
	}
	if r.sendErr != nil {
		return errors.LinkIOError("send "+CommandName(cmd), r.sendErr)
	}
	r.sent = append(r.sent, cmd)
	if r.respond != nil {
		r.inflight = append(r.inflight, r.respond(cmd)...)
	}
	return nil
}

func (r *Recorder) arrive() {
	if len(r.inflight) > 0 {
		r.pending = append(r.pending, r.inflight...)
		r.inflight = nil
	}
}

// Available returns the number of pending reply bytes.
func (r *Recorder) Available() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrive()
	return len(r.pending), nil
}

// ReadAvailable returns and consumes all pending bytes.
func (r *Recorder) ReadAvailable() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrive()
	if len(r.pending) == 0 {
		return nil, nil
	}
	out := r.pending
	r.pending = nil
	return out, nil
}

// Flush drops input that has arrived.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
	return nil
}

// Close marks the recorder closed; later sends fail.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Inject appends raw bytes to the pending input, as if the board had sent
// them unprompted.
func (r *Recorder) Inject(b []byte) {
	r.mu.Lock()
	r.pending = append(r.pending, b...)
	r.mu.Unlock()
}

// FailSends makes every following Send return err; nil restores sending.
func (r *Recorder) FailSends(err error) {
	r.mu.Lock()
	r.sendErr = err
	r.mu.Unlock()
}

// SetResponder replaces the responder.
func (r *Recorder) SetResponder(respond Responder) {
	r.mu.Lock()
	r.respond = respond
	r.mu.Unlock()
}

// Sent returns a copy of all commands sent so far.
func (r *Recorder) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// Reset forgets the sent log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
