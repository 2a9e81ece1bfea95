package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/provider"
	"github.com/talkincode/wagateway/internal/session"
	"github.com/talkincode/wagateway/internal/webserver"
)

const testKey = "test-key"

type fakeService struct {
	startErr  error
	started   []string
	status    session.StatusView
	statusErr error
	qr        string
	qrErr     error
	sendErr   error
	sent      []provider.OutboundContent
	logoutErr string
	sessions  int
}

func (f *fakeService) Start(_ context.Context, id string) (*session.Handle, error) {
	f.started = append(f.started, id)
	return nil, f.startErr
}

func (f *fakeService) Status(context.Context, string) (session.StatusView, error) {
	return f.status, f.statusErr
}

func (f *fakeService) GetQR(context.Context, string) (string, error) {
	return f.qr, f.qrErr
}

func (f *fakeService) SendMessage(_ context.Context, _, _ string, content provider.OutboundContent) (provider.SendResult, error) {
	if f.sendErr != nil {
		return provider.SendResult{}, f.sendErr
	}
	f.sent = append(f.sent, content)
	return provider.SendResult{MessageID: "MSG1"}, nil
}

func (f *fakeService) Disconnect(context.Context, string) (session.DisconnectResult, error) {
	return session.DisconnectResult{OK: true, Message: "Instance disconnected", LogoutError: f.logoutErr}, nil
}

func (f *fakeService) ForceDelete(context.Context, string) (session.Result, error) {
	return session.Result{OK: true, Message: "Instance force deleted"}, nil
}

func (f *fakeService) ClearSession(_ context.Context, id string) (session.Result, error) {
	if strings.TrimSpace(id) == "" {
		return session.Result{}, session.ErrInvalidInstanceID
	}
	return session.Result{OK: true, Message: "Instance session cleared"}, nil
}

func (f *fakeService) Sessions() int {
	return f.sessions
}

func setup(t *testing.T, svc *fakeService) {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.Web.ApiKey = testKey
	webserver.Init(&cfg)
	Init(svc)
}

func do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(webserver.APIKeyHeader, testKey)
	rec := httptest.NewRecorder()
	webserver.Echo().ServeHTTP(rec, req)
	return rec
}

func field(rec *httptest.ResponseRecorder, path ...interface{}) jsoniter.Any {
	return jsoniter.Get(rec.Body.Bytes(), path...)
}

func TestStartInstance(t *testing.T) {
	svc := &fakeService{}
	setup(t, svc)

	rec := do(t, http.MethodPost, "/api/instance/start", `{"instanceId":"shop-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, field(rec, "ok").ToBool())
	assert.Equal(t, "shop-1", field(rec, "instanceId").ToString())
	assert.Equal(t, []string{"shop-1"}, svc.started)
}

func TestStartInstanceValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code string
	}{
		{"missing id", `{}`, nil, "VALIDATION_ERROR"},
		{"blank id", `{"instanceId":"   "}`, session.ErrInvalidInstanceID, "VALIDATION_ERROR"},
		{"malformed", `{"instanceId":`, nil, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup(t, &fakeService{startErr: tt.err})
			rec := do(t, http.MethodPost, "/api/instance/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, field(rec, "error", "code").ToString())
		})
	}
}

func TestStartInstanceFailure(t *testing.T) {
	setup(t, &fakeService{startErr: errors.New("db down")})
	rec := do(t, http.MethodPost, "/api/instance/start", `{"instanceId":"a"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "START_FAILED", field(rec, "error", "code").ToString())
}

func TestStartInstanceAborted(t *testing.T) {
	setup(t, &fakeService{startErr: session.ErrStopped})
	rec := do(t, http.MethodPost, "/api/instance/start", `{"instanceId":"a"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "START_ABORTED", field(rec, "error", "code").ToString())
}

func TestInstanceStatus(t *testing.T) {
	svc := &fakeService{status: session.StatusView{InstanceID: "a", Status: domain.StatusConnected, PhoneNumber: "5511999"}}
	setup(t, svc)

	rec := do(t, http.MethodGet, "/api/instance/status/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "connected", field(rec, "status").ToString())
	assert.Equal(t, "5511999", field(rec, "phoneNumber").ToString())

	svc.statusErr = session.ErrNotFound
	rec = do(t, http.MethodGet, "/api/instance/status/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", field(rec, "error", "code").ToString())
}

func TestInstanceQR(t *testing.T) {
	svc := &fakeService{qr: "data:image/png;base64,AAAA"}
	setup(t, svc)

	rec := do(t, http.MethodGet, "/api/instance/qr/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a", field(rec, "instanceId").ToString())
	assert.Equal(t, svc.qr, field(rec, "qr").ToString())

	svc.qrErr = session.ErrNotFound
	rec = do(t, http.MethodGet, "/api/instance/qr/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage(t *testing.T) {
	svc := &fakeService{}
	setup(t, svc)

	rec := do(t, http.MethodPost, "/api/messages/send", `{"instanceId":"a","to":"5511999","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MSG1", field(rec, "messageId").ToString())

	rec = do(t, http.MethodPost, "/api/messages/send",
		`{"instanceId":"a","to":"5511999","mediaUrl":"https://cdn.example.com/a.png","mediaType":"image"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.sent, 2)
	require.NotNil(t, svc.sent[1].Media)
	assert.Equal(t, provider.MediaType("image"), svc.sent[1].Media.Type)
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"no content", `{"instanceId":"a","to":"1"}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"media without type", `{"instanceId":"a","to":"1","mediaUrl":"https://x.io/f"}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad media type", `{"instanceId":"a","to":"1","mediaUrl":"https://x.io/f","mediaType":"gif"}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not connected", `{"instanceId":"a","to":"1","message":"hi"}`, session.ErrNotConnected, http.StatusConflict, "NOT_CONNECTED"},
		{"bad target", `{"instanceId":"a","to":"x","message":"hi"}`, errors.Wrap(provider.ErrInvalidTarget, "send message"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"upstream", `{"instanceId":"a","to":"1","message":"hi"}`, errors.New("boom"), http.StatusInternalServerError, "SEND_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup(t, &fakeService{sendErr: tt.err})
			rec := do(t, http.MethodPost, "/api/messages/send", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, field(rec, "error", "code").ToString())
		})
	}
}

func TestTeardownRoutes(t *testing.T) {
	setup(t, &fakeService{logoutErr: "connection reset"})

	rec := do(t, http.MethodPost, "/api/instance/disconnect/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, field(rec, "ok").ToBool())
	assert.Equal(t, "connection reset", field(rec, "logoutError").ToString())

	rec = do(t, http.MethodPost, "/api/instance/force-delete/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Instance force deleted", field(rec, "message").ToString())

	rec = do(t, http.MethodPost, "/api/instance/clear/a", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, http.MethodPost, "/api/instance/clear/%20", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthNeedsNoKey(t *testing.T) {
	setup(t, &fakeService{sessions: 3})

	rec := httptest.NewRecorder()
	webserver.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", field(rec, "status").ToString())
	assert.Equal(t, int64(3), field(rec, "sessions").ToInt64())
	assert.Equal(t, jsoniter.NumberValue, field(rec, "rss_mb").ValueType())
}

func TestAPIRequiresKey(t *testing.T) {
	setup(t, &fakeService{})
	rec := httptest.NewRecorder()
	webserver.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/instance/status/a", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
