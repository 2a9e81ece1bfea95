package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/provider"
	"github.com/talkincode/wagateway/internal/session"
	"github.com/talkincode/wagateway/internal/webserver"
	"go.uber.org/zap"
)

type sendMessagePayload struct {
	InstanceID string `json:"instanceId" validate:"required,max=128"`
	To         string `json:"to" validate:"required"`
	Message    string `json:"message" validate:"required_without=MediaURL"`
	MediaURL   string `json:"mediaUrl" validate:"omitempty,url"`
	MediaType  string `json:"mediaType" validate:"omitempty,oneof=image video audio document"`
}

func registerMessageRoutes(h *handlers) {
	webserver.ApiPOST("/messages/send", h.sendMessage)
}

func (h *handlers) sendMessage(c echo.Context) error {
	var payload sendMessagePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid message request", err.Error())
	}
	if payload.MediaURL != "" && payload.MediaType == "" {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "mediaType is required with mediaUrl", nil)
	}

	content := provider.OutboundContent{Text: payload.Message}
	if payload.MediaURL != "" {
		content.Media = &provider.OutboundMedia{URL: payload.MediaURL, Type: provider.MediaType(payload.MediaType)}
	}

	res, err := h.svc.SendMessage(c.Request().Context(), payload.InstanceID, payload.To, content)
	switch {
	case err == nil:
		return ok(c, map[string]interface{}{"ok": true, "messageId": res.MessageID})
	case errors.Is(err, session.ErrNotConnected):
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "Instance is not connected", nil)
	case errors.Is(err, session.ErrInvalidInstanceID):
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "instanceId is required", nil)
	case errors.Is(err, provider.ErrInvalidTarget):
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid recipient", err.Error())
	default:
		zap.L().Error("send message failed", zap.String("instance", payload.InstanceID), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "SEND_FAILED", "Unable to send message", err.Error())
	}
}
