// Package adminapi exposes the session controller over the HTTP API.
package adminapi

import (
	"context"

	"github.com/talkincode/wagateway/internal/provider"
	"github.com/talkincode/wagateway/internal/session"
)

// SessionService is the part of session.Controller the handlers drive.
type SessionService interface {
	Start(ctx context.Context, instanceID string) (*session.Handle, error)
	Status(ctx context.Context, instanceID string) (session.StatusView, error)
	GetQR(ctx context.Context, instanceID string) (string, error)
	SendMessage(ctx context.Context, instanceID, to string, content provider.OutboundContent) (provider.SendResult, error)
	Disconnect(ctx context.Context, instanceID string) (session.DisconnectResult, error)
	ForceDelete(ctx context.Context, instanceID string) (session.Result, error)
	ClearSession(ctx context.Context, instanceID string) (session.Result, error)
	Sessions() int
}

var _ SessionService = (*session.Controller)(nil)

// Init registers every route on the webserver. webserver.Init must run first.
func Init(svc SessionService) {
	h := &handlers{svc: svc}
	registerInstanceRoutes(h)
	registerMessageRoutes(h)
	registerHealthRoutes(h)
}

type handlers struct {
	svc SessionService
}
