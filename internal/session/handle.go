package session

import (
	"sync"
	"time"

	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/provider"
)

type eventKind int

const (
	evCreds eventKind = iota
	evConnection
	evMessages
)

type event struct {
	gen   uint64
	kind  eventKind
	creds []byte
	conn  provider.ConnectionUpdate
	batch provider.MessageBatch
}

// Handle is the live association between an instance and its socket.
// Every socket opened for the handle gets a new generation; events from
// older generations are dropped.
type Handle struct {
	id string

	mu       sync.Mutex
	socket   provider.Socket
	gen      uint64
	status   domain.InstanceStatus
	phone    string
	attempts int
	timer    *time.Timer
	stopped  bool

	qmu   sync.Mutex
	queue []event
	wake  chan struct{}
	done  chan struct{}
}

func newHandle(id string) *Handle {
	return &Handle{
		id:     id,
		status: domain.StatusIdle,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Status() domain.InstanceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handle) PhoneNumber() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phone
}

func (h *Handle) setStatus(s domain.InstanceStatus) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *Handle) setPhone(phone string) {
	h.mu.Lock()
	h.phone = phone
	h.mu.Unlock()
}

func (h *Handle) currentSocket() provider.Socket {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.socket
}

func (h *Handle) generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

// nextGeneration detaches the current socket and returns it together with
// the generation the replacement must be opened under.
func (h *Handle) nextGeneration() (provider.Socket, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.socket
	h.socket = nil
	h.gen++
	return old, h.gen
}

// attach installs sock unless the handle was stopped meanwhile.
func (h *Handle) attach(sock provider.Socket, gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || gen != h.gen {
		return false
	}
	h.socket = sock
	return true
}

func (h *Handle) nextAttempt() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
	return h.attempts
}

func (h *Handle) attemptsMade() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

func (h *Handle) resetAttempts() {
	h.mu.Lock()
	h.attempts = 0
	h.mu.Unlock()
}

func (h *Handle) schedule(delay time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(delay, fn)
}

// reconnectPending reports whether a reconnect timer is armed.
func (h *Handle) reconnectPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timer != nil
}

func (h *Handle) clearTimer() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.mu.Unlock()
}

func (h *Handle) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// stop cancels any pending reconnect, ends the event loop and hands back
// the socket for the caller to close. It never waits.
func (h *Handle) stop() provider.Socket {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	sock := h.socket
	h.socket = nil
	h.mu.Unlock()

	h.qmu.Lock()
	h.queue = nil
	h.qmu.Unlock()
	close(h.done)
	return sock
}

func (h *Handle) post(ev event) {
	select {
	case <-h.done:
		return
	default:
	}
	h.qmu.Lock()
	h.queue = append(h.queue, ev)
	h.qmu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) next() (event, bool) {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	if len(h.queue) == 0 {
		return event{}, false
	}
	ev := h.queue[0]
	h.queue[0] = event{}
	h.queue = h.queue[1:]
	return ev, true
}

func (h *Handle) listener(gen uint64) provider.Listener {
	return socketListener{h: h, gen: gen}
}

// socketListener tags provider callbacks with the socket generation.
type socketListener struct {
	h   *Handle
	gen uint64
}

func (l socketListener) CredsUpdated(material []byte) {
	l.h.post(event{gen: l.gen, kind: evCreds, creds: material})
}

func (l socketListener) ConnectionChanged(u provider.ConnectionUpdate) {
	l.h.post(event{gen: l.gen, kind: evConnection, conn: u})
}

func (l socketListener) MessagesReceived(b provider.MessageBatch) {
	l.h.post(event{gen: l.gen, kind: evMessages, batch: b})
}
