// Package webserver hosts the HTTP surface. Handlers register through the
// package-level helpers; every /api route requires the X-API-Key header.
package webserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/wagateway/config"
	"go.uber.org/zap"
)

const (
	APIPrefix    = "/api"
	APIKeyHeader = "X-API-Key"
)

type AdminServer struct {
	root *echo.Echo
	api  *echo.Group
	addr string
}

var server *AdminServer

// Init builds the server. It replaces any previously initialized instance.
func Init(cfg *config.AppConfig) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			zap.L().Debug("http request", fields...)
			return nil
		},
	}))
	e.Use(middleware.BodyLimit("2M"))

	api := e.Group(APIPrefix, APIKeyAuth(cfg.Web.ApiKey))
	server = &AdminServer{
		root: e,
		api:  api,
		addr: fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
	}
}

// APIKeyAuth rejects requests whose X-API-Key does not match key.
func APIKeyAuth(key string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + APIKeyHeader,
		Validator: func(got string, c echo.Context) (bool, error) {
			return key != "" && subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key", nil)
		},
	})
}

func mustServer() *AdminServer {
	if server == nil {
		panic("webserver: Init has not been called")
	}
	return server
}

// Echo exposes the router, mainly for tests.
func Echo() *echo.Echo {
	return mustServer().root
}

func GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().root.GET(path, h, m...)
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().api.GET(path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().api.POST(path, h, m...)
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().api.PUT(path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	mustServer().api.DELETE(path, h, m...)
}

// Listen blocks serving HTTP until Shutdown.
func Listen() error {
	s := mustServer()
	zap.L().Info("http server listening", zap.String("addr", s.addr))
	err := s.root.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func Shutdown(timeout time.Duration) error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.root.Shutdown(ctx)
}

// ErrorBody is the JSON shape of every failure.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func ErrorResponse(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}})
}

func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = fmt.Sprint(he.Message)
		switch status {
		case http.StatusNotFound:
			code = "NOT_FOUND"
		case http.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		case http.StatusUnauthorized:
			code = "UNAUTHORIZED"
		case http.StatusRequestEntityTooLarge:
			code = "PAYLOAD_TOO_LARGE"
		default:
			if status < 500 {
				code = "BAD_REQUEST"
			}
		}
	} else {
		zap.L().Error("unhandled http error", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	if err := ErrorResponse(c, status, code, message, nil); err != nil {
		zap.L().Warn("write error response", zap.Error(err))
	}
}

// Validator plugs go-playground/validator into echo's c.Validate.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}
