// Package qrcache holds the latest pairing code per instance for a short time.
package qrcache

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

const DefaultTTL = 60 * time.Second

// Cache is TTL-bound storage of pairing payloads with change notification.
// Entries are not consumed by Get.
type Cache interface {
	Set(ctx context.Context, instanceID, payload string, ttl time.Duration) error
	// Get reports false once the entry expired or was deleted.
	Get(ctx context.Context, instanceID string) (string, bool, error)
	Delete(ctx context.Context, instanceID string) error
	// Subscribe calls fn with every new payload for the instance, and with ""
	// when the entry is deleted. The returned func stops the subscription.
	Subscribe(instanceID string, fn func(payload string)) (unsubscribe func())
}

func key(instanceID string) string {
	return "qr:" + instanceID
}

// Render turns a raw pairing code into a PNG data URL.
func Render(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", errors.Wrap(err, "encode qr")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
