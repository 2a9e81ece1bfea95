// Package session owns the lifecycle of every instance: it opens provider
// sockets, reacts to their events, reconnects and tears down.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/provider"
	"github.com/talkincode/wagateway/internal/qrcache"
	"github.com/talkincode/wagateway/internal/store"
	"github.com/talkincode/wagateway/internal/webhook"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type InstanceStore interface {
	SaveStatus(ctx context.Context, instanceID string, status domain.InstanceStatus, phone string) error
	// UpdateStatus never creates a record; found is false for unknown ids.
	UpdateStatus(ctx context.Context, instanceID string, status domain.InstanceStatus) (found bool, err error)
	Get(ctx context.Context, instanceID string) (*domain.Instance, error)
}

type CredentialStore interface {
	Save(ctx context.Context, instanceID string, material []byte) error
	// Load returns nil material when the instance never paired.
	Load(ctx context.Context, instanceID string) ([]byte, error)
	Delete(ctx context.Context, instanceID string) error
}

type Notifier interface {
	Send(event, instanceID string, data any)
}

type MessageSink interface {
	Handle(instanceID string, batch provider.MessageBatch) int
}

// Deps are the fixed collaborators of a Controller.
type Deps struct {
	Provider    provider.Provider
	Instances   InstanceStore
	Credentials CredentialStore
	QR          qrcache.Cache
	Notifier    Notifier
	Ingest      MessageSink
}

type Config struct {
	ReconnectDelay time.Duration
	// MaxReconnects caps consecutive reconnects, 0 means unlimited.
	MaxReconnects int
	QRTTL         time.Duration
	// OpTimeout bounds store calls made while handling socket events.
	OpTimeout time.Duration
}

type Option func(*Controller)

// WithStatusObserver is called on every in-memory status transition.
// It runs inside the instance's critical section and must not call back
// into the Controller.
func WithStatusObserver(fn func(instanceID string, status domain.InstanceStatus)) Option {
	return func(c *Controller) { c.observer = fn }
}

type StatusView struct {
	InstanceID  string                `json:"instanceId"`
	Status      domain.InstanceStatus `json:"status"`
	PhoneNumber string                `json:"phoneNumber,omitempty"`
}

type DisconnectResult struct {
	OK          bool   `json:"ok"`
	Message     string `json:"message"`
	LogoutError string `json:"logoutError,omitempty"`
}

type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Controller struct {
	deps     Deps
	cfg      Config
	registry *Registry
	starts   singleflight.Group
	observer func(string, domain.InstanceStatus)
}

func NewController(deps Deps, cfg Config, opts ...Option) *Controller {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = qrcache.DefaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 15 * time.Second
	}
	c := &Controller{deps: deps, cfg: cfg, registry: NewRegistry()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Registry() *Registry {
	return c.registry
}

// Sessions counts the registered handles, whatever their status.
func (c *Controller) Sessions() int {
	return c.registry.Len()
}

// LiveIDs returns the instances currently connected.
func (c *Controller) LiveIDs() []string {
	var ids []string
	for _, id := range c.registry.IDs() {
		if h := c.registry.Get(id); h != nil && h.Status() == domain.StatusConnected {
			ids = append(ids, id)
		}
	}
	return ids
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidInstanceID
	}
	return id, nil
}

// Start opens a socket for the instance unless one is already registered.
// Concurrent calls for the same id share one attempt.
func (c *Controller) Start(ctx context.Context, instanceID string) (*Handle, error) {
	id, err := normalizeID(instanceID)
	if err != nil {
		return nil, err
	}
	if h := c.registry.Get(id); h != nil {
		return h, nil
	}
	v, err, _ := c.starts.Do(id, func() (any, error) {
		return c.start(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// start registers the handle before dialing so a teardown issued while the
// socket opens finds and stops it. Open itself runs outside the instance
// lock.
func (c *Controller) start(ctx context.Context, id string) (*Handle, error) {
	unlock := c.registry.Lock(id)
	if h := c.registry.Get(id); h != nil {
		unlock()
		return h, nil
	}
	cred, err := c.deps.Credentials.Load(ctx, id)
	if err != nil {
		unlock()
		return nil, errors.Wrap(err, "load credential")
	}

	h := newHandle(id)
	c.observe(id, domain.StatusIdle)
	c.persist(ctx, id, domain.StatusConnecting, "")
	h.setStatus(domain.StatusConnecting)
	c.observe(id, domain.StatusConnecting)
	_, gen := h.nextGeneration()
	if err := c.registry.Put(id, h); err != nil {
		unlock()
		return nil, err
	}
	go c.loop(h)
	unlock()

	sock, err := c.deps.Provider.Open(ctx, id, cred, h.listener(gen))
	if err != nil {
		zap.L().Error("open socket failed", zap.String("instance", id), zap.Error(err))
		c.abandon(h)
		return nil, errors.Wrap(err, "open socket")
	}
	if !h.attach(sock, gen) {
		closeQuietly(id, sock)
		zap.L().Info("instance stopped while opening", zap.String("instance", id))
		return nil, ErrStopped
	}
	zap.L().Info("instance started", zap.String("instance", id), zap.Bool("fresh", cred == nil))
	return h, nil
}

// abandon unregisters a handle whose first socket never opened. A teardown
// that already took the handle owns the final status.
func (c *Controller) abandon(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	defer cancel()
	unlock := c.registry.Lock(h.id)
	defer unlock()
	if !c.registry.RemoveHandle(h.id, h) {
		return
	}
	h.stop()
	c.transition(ctx, h, domain.StatusDisconnected)
}

func (c *Controller) loop(h *Handle) {
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}
		for {
			ev, ok := h.next()
			if !ok {
				break
			}
			c.dispatch(h, ev)
		}
	}
}

func (c *Controller) dispatch(h *Handle, ev event) {
	unlock := c.registry.Lock(h.id)
	defer unlock()
	if c.registry.Get(h.id) != h || ev.gen != h.generation() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("session event handler panic", zap.String("instance", h.id), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	defer cancel()
	switch ev.kind {
	case evCreds:
		if err := c.deps.Credentials.Save(ctx, h.id, ev.creds); err != nil {
			zap.L().Error("persist credential failed", zap.String("instance", h.id), zap.Error(err))
		}
	case evConnection:
		c.onConnection(ctx, h, ev.conn)
	case evMessages:
		c.deps.Ingest.Handle(h.id, ev.batch)
	}
}

func (c *Controller) onConnection(ctx context.Context, h *Handle, u provider.ConnectionUpdate) {
	if u.PairingCode != "" {
		c.onPairingCode(ctx, h, u.PairingCode)
	}
	var data map[string]any
	switch u.State {
	case provider.StateOpen:
		data = c.onOpen(ctx, h, u.PhoneNumber)
	case provider.StateConnecting:
		if h.Status() != domain.StatusReconnecting {
			c.transition(ctx, h, domain.StatusConnecting)
		}
		data = map[string]any{"state": string(h.Status())}
	case provider.StateClosed:
		data = c.onClosed(ctx, h, u.Reason)
	default:
		if u.PairingCode != "" {
			// qr.ready already reported this one
			return
		}
		data = map[string]any{"state": string(h.Status())}
	}
	c.deps.Notifier.Send(webhook.EventConnectionUpdate, h.id, data)
}

func (c *Controller) onPairingCode(ctx context.Context, h *Handle, code string) {
	payload, err := qrcache.Render(code)
	if err != nil {
		zap.L().Warn("render pairing code failed, caching raw code", zap.String("instance", h.id), zap.Error(err))
		payload = code
	}
	if err := c.deps.QR.Set(ctx, h.id, payload, c.cfg.QRTTL); err != nil {
		zap.L().Warn("cache pairing code failed", zap.String("instance", h.id), zap.Error(err))
	}
	c.transition(ctx, h, domain.StatusQRPending)
	c.deps.Notifier.Send(webhook.EventQRReady, h.id, map[string]any{"qr": payload})
	zap.L().Info("pairing code ready", zap.String("instance", h.id))
}

func (c *Controller) onOpen(ctx context.Context, h *Handle, phone string) map[string]any {
	h.resetAttempts()
	if phone != "" {
		h.setPhone(phone)
	}
	c.transition(ctx, h, domain.StatusConnected)
	if err := c.deps.QR.Delete(ctx, h.id); err != nil {
		zap.L().Warn("clear pairing code failed", zap.String("instance", h.id), zap.Error(err))
	}
	data := map[string]any{"state": string(domain.StatusConnected)}
	if p := h.PhoneNumber(); p != "" {
		data["phoneNumber"] = p
	}
	zap.L().Info("instance connected", zap.String("instance", h.id), zap.String("phone", h.PhoneNumber()))
	return data
}

func (c *Controller) onClosed(ctx context.Context, h *Handle, reason provider.DisconnectReason) map[string]any {
	if reason == "" {
		reason = provider.ReasonUnknown
	}
	policy := classify(reason)
	data := map[string]any{"reason": string(reason)}
	if !policy.reconnect {
		c.terminate(ctx, h, policy)
		data["state"] = string(policy.terminalStatus)
		data["terminal"] = true
		zap.L().Info("instance closed for good", zap.String("instance", h.id), zap.String("reason", string(reason)))
		return data
	}
	if c.retry(ctx, h) {
		data["state"] = string(domain.StatusReconnecting)
		data["attempt"] = h.attemptsMade()
	} else {
		data["state"] = string(domain.StatusDisconnected)
		data["terminal"] = true
	}
	return data
}

// retry schedules a reconnect, or gives up once the attempt budget is spent.
func (c *Controller) retry(ctx context.Context, h *Handle) bool {
	if c.cfg.MaxReconnects > 0 && h.attemptsMade() >= c.cfg.MaxReconnects {
		zap.L().Warn("reconnect attempts exhausted", zap.String("instance", h.id), zap.Int("attempts", h.attemptsMade()))
		c.transition(ctx, h, domain.StatusDisconnected)
		c.release(h)
		return false
	}
	n := h.nextAttempt()
	c.transition(ctx, h, domain.StatusReconnecting)
	h.schedule(c.cfg.ReconnectDelay, func() { c.reconnect(h) })
	zap.L().Info("reconnect scheduled", zap.String("instance", h.id), zap.Int("attempt", n), zap.Duration("delay", c.cfg.ReconnectDelay))
	return true
}

func (c *Controller) reconnect(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	defer cancel()

	unlock := c.registry.Lock(h.id)
	if c.registry.Get(h.id) != h || h.isStopped() {
		unlock()
		return
	}
	h.clearTimer()
	cred, err := c.deps.Credentials.Load(ctx, h.id)
	if err != nil {
		zap.L().Warn("reconnect: load credential failed", zap.String("instance", h.id), zap.Error(err))
		c.reconnectFailed(ctx, h)
		unlock()
		return
	}
	old, gen := h.nextGeneration()
	unlock()
	closeQuietly(h.id, old)

	sock, err := c.deps.Provider.Open(ctx, h.id, cred, h.listener(gen))
	if err != nil {
		zap.L().Warn("reconnect: open socket failed", zap.String("instance", h.id), zap.Error(err))
		c.reconnectAborted(h, gen)
		return
	}
	if !h.attach(sock, gen) {
		closeQuietly(h.id, sock)
	}
}

// reconnectAborted schedules the next attempt unless h was torn down or
// moved on while the failed dial was running.
func (c *Controller) reconnectAborted(h *Handle, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	defer cancel()
	unlock := c.registry.Lock(h.id)
	defer unlock()
	if c.registry.Get(h.id) != h || h.isStopped() || h.generation() != gen {
		return
	}
	c.reconnectFailed(ctx, h)
}

func (c *Controller) reconnectFailed(ctx context.Context, h *Handle) {
	data := c.onClosed(ctx, h, provider.ReasonConnectionClosed)
	c.deps.Notifier.Send(webhook.EventConnectionUpdate, h.id, data)
}

func (c *Controller) terminate(ctx context.Context, h *Handle, policy reasonPolicy) {
	c.transition(ctx, h, policy.terminalStatus)
	c.release(h)
	if policy.wipeCredential {
		if err := c.wipeCredential(ctx, h.id); err != nil {
			logTeardown(h.id, "wipe credential", err)
		}
	}
	if err := c.deps.QR.Delete(ctx, h.id); err != nil {
		zap.L().Warn("clear pairing code failed", zap.String("instance", h.id), zap.Error(err))
	}
}

// wipeCredential drops the engine's device keys and then the stored
// credential. Both steps run even if the first fails.
func (c *Controller) wipeCredential(ctx context.Context, id string) error {
	var errs error
	cred, err := c.deps.Credentials.Load(ctx, id)
	if err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "load credential"))
	} else if cred != nil {
		if err := c.deps.Provider.Forget(ctx, id, cred); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "forget device"))
		}
	}
	if err := c.deps.Credentials.Delete(ctx, id); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "delete credential"))
	}
	return errs
}

// release unregisters h and closes its socket.
func (c *Controller) release(h *Handle) {
	c.registry.RemoveHandle(h.id, h)
	closeQuietly(h.id, h.stop())
}

// transition records status durably first, then in memory.
func (c *Controller) transition(ctx context.Context, h *Handle, status domain.InstanceStatus) {
	c.persist(ctx, h.id, status, h.PhoneNumber())
	h.setStatus(status)
	c.observe(h.id, status)
}

func (c *Controller) observe(id string, status domain.InstanceStatus) {
	if c.observer != nil {
		c.observer(id, status)
	}
}

func (c *Controller) persist(ctx context.Context, id string, status domain.InstanceStatus, phone string) {
	if err := c.deps.Instances.SaveStatus(ctx, id, status, phone); err != nil {
		zap.L().Error("persist status failed",
			zap.String("instance", id), zap.String("status", string(status)), zap.Error(err))
	}
}

// Status answers from memory first, then from the durable record.
func (c *Controller) Status(ctx context.Context, instanceID string) (StatusView, error) {
	id, err := normalizeID(instanceID)
	if err != nil {
		return StatusView{}, err
	}
	if h := c.registry.Get(id); h != nil {
		return StatusView{InstanceID: id, Status: h.Status(), PhoneNumber: h.PhoneNumber()}, nil
	}
	inst, err := c.deps.Instances.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return StatusView{}, ErrNotFound
	}
	if err != nil {
		return StatusView{}, err
	}
	status := inst.Status
	if status == "" {
		status = domain.StatusUnknown
	}
	return StatusView{InstanceID: id, Status: status, PhoneNumber: inst.PhoneNumber}, nil
}

func (c *Controller) GetQR(ctx context.Context, instanceID string) (string, error) {
	id, err := normalizeID(instanceID)
	if err != nil {
		return "", err
	}
	payload, ok, err := c.deps.QR.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return payload, nil
}

// SendMessage delegates to the live socket. Nothing is persisted.
func (c *Controller) SendMessage(ctx context.Context, instanceID, to string, content provider.OutboundContent) (provider.SendResult, error) {
	id, err := normalizeID(instanceID)
	if err != nil {
		return provider.SendResult{}, err
	}
	h := c.registry.Get(id)
	if h == nil || h.Status() != domain.StatusConnected {
		return provider.SendResult{}, ErrNotConnected
	}
	sock := h.currentSocket()
	if sock == nil {
		return provider.SendResult{}, ErrNotConnected
	}
	res, err := sock.Send(ctx, to, content)
	if err != nil {
		return provider.SendResult{}, errors.Wrap(err, "send message")
	}
	return res, nil
}

// Disconnect logs the instance out and tears it down. Every step runs even
// when an earlier one failed; the logout error is only reported back.
func (c *Controller) Disconnect(ctx context.Context, instanceID string) (DisconnectResult, error) {
	id, err := normalizeID(instanceID)
	if err != nil {
		return DisconnectResult{}, err
	}
	ctx = context.WithoutCancel(ctx)
	res := DisconnectResult{OK: true, Message: "Instance disconnected"}

	c.starts.Forget(id)
	var sock provider.Socket
	if h := c.registry.Remove(id); h != nil {
		sock = h.stop()
	}
	loggedOut := false
	if sock != nil {
		if err := logout(ctx, sock); err != nil {
			res.LogoutError = err.Error()
			zap.L().Warn("logout failed, continuing disconnect", zap.String("instance", id), zap.Error(err))
		} else {
			loggedOut = true
		}
		closeQuietly(id, sock)
	}

	// a successful logout revokes the pairing, the material is useless now
	if err := c.teardown(ctx, id, loggedOut); err != nil {
		logTeardown(id, "disconnect", err)
	}
	c.deps.Notifier.Send(webhook.EventConnectionUpdate, id, map[string]any{"state": string(domain.StatusDisconnected)})
	zap.L().Info("instance disconnected", zap.String("instance", id), zap.Bool("logged_out", loggedOut))
	return res, nil
}

// ForceDelete drops the instance without talking to the network.
func (c *Controller) ForceDelete(ctx context.Context, instanceID string) (Result, error) {
	id, err := normalizeID(instanceID)
	if err != nil {
		return Result{}, err
	}
	c.drop(id)
	if err := c.teardown(context.WithoutCancel(ctx), id, false); err != nil {
		logTeardown(id, "force delete", err)
	}
	zap.L().Info("instance force deleted", zap.String("instance", id))
	return Result{OK: true, Message: "Instance force deleted"}, nil
}

// ClearSession force deletes the instance and forgets its credential.
func (c *Controller) ClearSession(ctx context.Context, instanceID string) (Result, error) {
	id, err := normalizeID(instanceID)
	if err != nil {
		return Result{}, err
	}
	c.drop(id)
	if err := c.teardown(context.WithoutCancel(ctx), id, true); err != nil {
		logTeardown(id, "clear session", err)
	}
	zap.L().Info("instance session cleared", zap.String("instance", id))
	return Result{OK: true, Message: "Instance session cleared"}, nil
}

// Shutdown closes every socket without logging out so credentials stay
// valid across restarts.
func (c *Controller) Shutdown() {
	for _, id := range c.registry.IDs() {
		c.drop(id)
	}
}

// drop unregisters id and closes its socket. A Start still dialing for the
// dropped handle fails with ErrStopped; later Starts begin afresh.
func (c *Controller) drop(id string) {
	c.starts.Forget(id)
	if h := c.registry.Remove(id); h != nil {
		closeQuietly(id, h.stop())
	}
}

// teardown runs the durable cleanup steps. It takes the instance lock so
// an event handler already in flight finishes first and cannot overwrite
// the final status. Ids that were never started get no record.
func (c *Controller) teardown(ctx context.Context, id string, wipeCredential bool) error {
	unlock := c.registry.Lock(id)
	defer unlock()
	var errs error
	if _, err := c.deps.Instances.UpdateStatus(ctx, id, domain.StatusDisconnected); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "persist status"))
	}
	if wipeCredential {
		errs = multierr.Append(errs, c.wipeCredential(ctx, id))
	}
	if err := c.deps.QR.Delete(ctx, id); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "delete pairing code"))
	}
	c.observe(id, domain.StatusDisconnected)
	return errs
}

func logTeardown(id, op string, err error) {
	for _, e := range multierr.Errors(err) {
		zap.L().Error(op+" step failed", zap.String("instance", id), zap.Error(e))
	}
}

func logout(ctx context.Context, sock provider.Socket) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("logout panic: %v", r)
		}
	}()
	return sock.Logout(ctx)
}

func closeQuietly(id string, sock provider.Socket) {
	if sock == nil {
		return
	}
	if err := sock.Close(); err != nil {
		zap.L().Debug("socket close", zap.String("instance", id), zap.Error(err))
	}
}
