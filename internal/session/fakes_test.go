package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/provider"
	"github.com/talkincode/wagateway/internal/store"
)

type fakeSocket struct {
	instanceID string
	listener   provider.Listener
	cred       []byte
	logoutErr  error

	mu        sync.Mutex
	sent      []string
	closed    bool
	loggedOut bool
}

func (s *fakeSocket) Send(_ context.Context, to string, content provider.OutboundContent) (provider.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+":"+content.Text)
	return provider.SendResult{MessageID: "MSG-1"}, nil
}

func (s *fakeSocket) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logoutErr != nil {
		return s.logoutErr
	}
	s.loggedOut = true
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeProvider struct {
	mu        sync.Mutex
	opens     int
	openErr   error
	openDelay time.Duration
	logoutErr error
	forgetErr error
	sockets   map[string][]*fakeSocket
	// delays overrides openDelay per instance
	delays    map[string]time.Duration
	forgotten map[string][][]byte
	// dialing receives the instance id whenever Open is entered
	dialing   chan string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sockets:   make(map[string][]*fakeSocket),
		delays:    make(map[string]time.Duration),
		forgotten: make(map[string][][]byte),
		dialing:   make(chan string, 64),
	}
}

func (p *fakeProvider) Open(_ context.Context, instanceID string, cred []byte, l provider.Listener) (provider.Socket, error) {
	p.mu.Lock()
	delay, ok := p.delays[instanceID]
	if !ok {
		delay = p.openDelay
	}
	p.mu.Unlock()
	select {
	case p.dialing <- instanceID:
	default:
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens++
	if p.openErr != nil {
		return nil, p.openErr
	}
	s := &fakeSocket{instanceID: instanceID, listener: l, cred: cred, logoutErr: p.logoutErr}
	p.sockets[instanceID] = append(p.sockets[instanceID], s)
	return s, nil
}

func (p *fakeProvider) Forget(_ context.Context, instanceID string, cred []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten[instanceID] = append(p.forgotten[instanceID], cred)
	return p.forgetErr
}

func (p *fakeProvider) forgottenFor(instanceID string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forgotten[instanceID]
}

func (p *fakeProvider) setDelay(instanceID string, d time.Duration) {
	p.mu.Lock()
	p.delays[instanceID] = d
	p.mu.Unlock()
}

func (p *fakeProvider) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

func (p *fakeProvider) setOpenErr(err error) {
	p.mu.Lock()
	p.openErr = err
	p.mu.Unlock()
}

func (p *fakeProvider) last(instanceID string) *fakeSocket {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := p.sockets[instanceID]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

type memInstances struct {
	mu      sync.Mutex
	records map[string]domain.Instance
	saveErr error
}

func newMemInstances() *memInstances {
	return &memInstances{records: make(map[string]domain.Instance)}
}

func (m *memInstances) SaveStatus(_ context.Context, id string, status domain.InstanceStatus, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	rec := m.records[id]
	rec.InstanceID = id
	rec.Status = status
	if phone != "" {
		rec.PhoneNumber = phone
	}
	m.records[id] = rec
	return nil
}

func (m *memInstances) UpdateStatus(_ context.Context, id string, status domain.InstanceStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return false, m.saveErr
	}
	rec, ok := m.records[id]
	if !ok {
		return false, nil
	}
	rec.Status = status
	m.records[id] = rec
	return true, nil
}

func (m *memInstances) Get(_ context.Context, id string) (*domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (m *memInstances) status(id string) domain.InstanceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

type memCreds struct {
	mu        sync.Mutex
	material  map[string][]byte
	deleteErr error
}

func newMemCreds() *memCreds {
	return &memCreds{material: make(map[string][]byte)}
}

func (m *memCreds) Save(_ context.Context, id string, material []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.material[id] = material
	return nil
}

func (m *memCreds) Load(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.material[id], nil
}

func (m *memCreds) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.material, id)
	return nil
}

func (m *memCreds) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.material[id]
	return ok
}

type notification struct {
	event    string
	instance string
	data     map[string]any
}

type recorder struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recorder) Send(event, instanceID string, data any) {
	m, _ := data.(map[string]any)
	r.mu.Lock()
	r.sent = append(r.sent, notification{event: event, instance: instanceID, data: m})
	r.mu.Unlock()
}

func (r *recorder) named(event string) []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification
	for _, n := range r.sent {
		if n.event == event {
			out = append(out, n)
		}
	}
	return out
}

type batchSink struct {
	mu       sync.Mutex
	batches  []provider.MessageBatch
	// delay slows every Handle call down
	delay    time.Duration
	// gates block Handle for an instance until closed
	gates    map[string]chan struct{}
	inflight map[string]int
	overlaps int
}

func (b *batchSink) Handle(id string, batch provider.MessageBatch) int {
	b.mu.Lock()
	if b.inflight == nil {
		b.inflight = make(map[string]int)
	}
	b.inflight[id]++
	if b.inflight[id] > 1 {
		b.overlaps++
	}
	gate := b.gates[id]
	delay := b.delay
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	time.Sleep(delay)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight[id]--
	b.batches = append(b.batches, batch)
	return len(batch.Messages)
}

func (b *batchSink) gate(id string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gates == nil {
		b.gates = make(map[string]chan struct{})
	}
	ch := make(chan struct{})
	b.gates[id] = ch
	return ch
}

func (b *batchSink) overlapCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overlaps
}

// ids returns the message ids seen, in handling order.
func (b *batchSink) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, batch := range b.batches {
		for _, m := range batch.Messages {
			out = append(out, m.Key.ID)
		}
	}
	return out
}

func (b *batchSink) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

type statusLog struct {
	mu  sync.Mutex
	seq map[string][]domain.InstanceStatus
}

func (l *statusLog) observe(id string, s domain.InstanceStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq == nil {
		l.seq = make(map[string][]domain.InstanceStatus)
	}
	l.seq[id] = append(l.seq[id], s)
}

func (l *statusLog) of(id string) []domain.InstanceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.InstanceStatus(nil), l.seq[id]...)
}

var errBoom = errors.New("boom")
