package adminapi

import (
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/talkincode/wagateway/internal/webserver"
	"go.uber.org/zap"
)

type healthView struct {
	Status   string  `json:"status"`
	Time     string  `json:"time"`
	Sessions int     `json:"sessions"`
	RssMB    float64 `json:"rss_mb"`
}

func registerHealthRoutes(h *handlers) {
	webserver.GET("/health", h.health)
}

func (h *handlers) health(c echo.Context) error {
	return ok(c, healthView{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
		Sessions: h.svc.Sessions(),
		RssMB:    processRSS(),
	})
}

func processRSS() float64 {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err != nil {
		return 0
	}
	meminfo, err := p.MemoryInfo()
	if err != nil {
		zap.L().Debug("read process memory failed", zap.Error(err))
		return 0
	}
	return float64(meminfo.RSS) / 1024 / 1024
}
