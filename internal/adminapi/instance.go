package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/session"
	"github.com/talkincode/wagateway/internal/webserver"
	"go.uber.org/zap"
)

type startInstancePayload struct {
	InstanceID string `json:"instanceId" validate:"required,max=128"`
}

func registerInstanceRoutes(h *handlers) {
	webserver.ApiPOST("/instance/start", h.startInstance)
	webserver.ApiGET("/instance/status/:instanceId", h.getInstanceStatus)
	webserver.ApiGET("/instance/qr/:instanceId", h.getInstanceQR)
	webserver.ApiPOST("/instance/disconnect/:instanceId", h.disconnectInstance)
	webserver.ApiPOST("/instance/force-delete/:instanceId", h.forceDeleteInstance)
	webserver.ApiPOST("/instance/clear/:instanceId", h.clearInstance)
}

func (h *handlers) startInstance(c echo.Context) error {
	var payload startInstancePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "instanceId is required", err.Error())
	}

	if _, err := h.svc.Start(c.Request().Context(), payload.InstanceID); err != nil {
		if errors.Is(err, session.ErrInvalidInstanceID) {
			return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "instanceId is required", nil)
		}
		if errors.Is(err, session.ErrStopped) {
			return fail(c, http.StatusConflict, "START_ABORTED", "Instance was stopped while starting", nil)
		}
		zap.L().Error("start instance failed", zap.String("instance", payload.InstanceID), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "START_FAILED", "Unable to start instance", err.Error())
	}
	return ok(c, map[string]interface{}{"ok": true, "instanceId": payload.InstanceID})
}

func (h *handlers) getInstanceStatus(c echo.Context) error {
	view, err := h.svc.Status(c.Request().Context(), c.Param("instanceId"))
	switch {
	case err == nil:
		return ok(c, view)
	case errors.Is(err, session.ErrInvalidInstanceID):
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "instanceId is required", nil)
	case errors.Is(err, session.ErrNotFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Instance not found", nil)
	default:
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to read instance status", err.Error())
	}
}

func (h *handlers) getInstanceQR(c echo.Context) error {
	id := c.Param("instanceId")
	qr, err := h.svc.GetQR(c.Request().Context(), id)
	switch {
	case err == nil:
		return ok(c, map[string]interface{}{"instanceId": id, "qr": qr})
	case errors.Is(err, session.ErrInvalidInstanceID):
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "instanceId is required", nil)
	case errors.Is(err, session.ErrNotFound):
		return fail(c, http.StatusNotFound, "QR_NOT_FOUND", "No QR code available, it may have expired or the instance is already paired", nil)
	default:
		return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to read QR code", err.Error())
	}
}

func (h *handlers) disconnectInstance(c echo.Context) error {
	res, err := h.svc.Disconnect(c.Request().Context(), c.Param("instanceId"))
	if err != nil {
		return teardownFailure(c, err)
	}
	return ok(c, res)
}

func (h *handlers) forceDeleteInstance(c echo.Context) error {
	res, err := h.svc.ForceDelete(c.Request().Context(), c.Param("instanceId"))
	if err != nil {
		return teardownFailure(c, err)
	}
	return ok(c, res)
}

func (h *handlers) clearInstance(c echo.Context) error {
	res, err := h.svc.ClearSession(c.Request().Context(), c.Param("instanceId"))
	if err != nil {
		return teardownFailure(c, err)
	}
	return ok(c, res)
}

func teardownFailure(c echo.Context, err error) error {
	if errors.Is(err, session.ErrInvalidInstanceID) {
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "instanceId is required", nil)
	}
	return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed", err.Error())
}
