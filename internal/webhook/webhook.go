// Package webhook delivers gateway events to the configured HTTP sink.
// Delivery is at most once: failures are logged and dropped.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guonaihong/gout"
	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	EventQRReady          = "qr.ready"
	EventConnectionUpdate = "connection.update"
	EventMessageReceived  = "message.received"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderID        = "X-Webhook-Id"
	HeaderSignature = "X-Webhook-Signature"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is the JSON body posted to the sink.
type Event struct {
	Event     string `json:"event"`
	Instance  string `json:"instance"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Workers int
}

type Dispatcher struct {
	cfg    Config
	client *http.Client
	pool   *ants.Pool
	wg     sync.WaitGroup
	now    func() time.Time
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 64
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, errors.Wrap(err, "create webhook pool")
	}
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		pool:   pool,
		now:    time.Now,
	}, nil
}

// Send queues the event for delivery and returns immediately.
func (d *Dispatcher) Send(event, instanceID string, data any) {
	if d.cfg.URL == "" {
		zap.L().Debug("webhook url not configured, event skipped",
			zap.String("event", event), zap.String("instance", instanceID))
		return
	}
	ev := Event{
		Event:     event,
		Instance:  instanceID,
		Data:      data,
		Timestamp: d.now().UTC().Format(timestampLayout),
	}
	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		if err := d.Deliver(context.Background(), ev); err != nil {
			zap.L().Warn("webhook delivery failed",
				zap.String("event", event), zap.String("instance", instanceID), zap.Error(err))
		}
	})
	if err != nil {
		d.wg.Done()
		zap.L().Warn("webhook pool saturated, event dropped",
			zap.String("event", event), zap.String("instance", instanceID), zap.Error(err))
	}
}

// Deliver posts one event synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal webhook event")
	}
	headers := gout.H{
		"Content-Type": "application/json",
		HeaderEvent:    ev.Event,
		HeaderID:       uuid.NewString(),
	}
	if d.cfg.Secret != "" {
		headers[HeaderSignature] = Sign(d.cfg.Secret, body)
	}
	var code int
	err = gout.New(d.client).
		POST(d.cfg.URL).
		WithContext(ctx).
		SetHeader(headers).
		SetBody(body).
		Code(&code).
		Do()
	if err != nil {
		return errors.Wrapf(err, "post %s", ev.Event)
	}
	if code < 200 || code >= 300 {
		return errors.Errorf("post %s: sink answered %d", ev.Event, code)
	}
	return nil
}

// Close waits for queued deliveries and releases the pool.
func (d *Dispatcher) Close() {
	d.wg.Wait()
	d.pool.Release()
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
