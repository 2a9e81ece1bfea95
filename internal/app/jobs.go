package app

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/talkincode/wagateway/internal/qrcache"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	if loc == nil {
		loc = time.UTC
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	if m, ok := a.qr.(*qrcache.Memory); ok {
		_, err = a.sched.AddFunc("@every 30s", func() {
			if n := m.Sweep(); n > 0 {
				zap.L().Debug("expired qr codes swept", zap.Int("count", n))
			}
		})
		if err != nil {
			zap.S().Errorf("init job error %s", err.Error())
		}
	}

	_, err = a.sched.AddFunc("@every 1m", a.SchedTouchLastSeen)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedTouchLastSeen refreshes last_seen of every connected instance.
func (a *Application) SchedTouchLastSeen() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	ids := a.sessions.LiveIDs()
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.instances.TouchLastSeen(ctx, ids); err != nil {
		zap.L().Warn("touch last seen failed", zap.Int("instances", len(ids)), zap.Error(err))
	}
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	fields := []zap.Field{zap.Int("sessions", a.sessions.Sessions())}
	if cpuuse, err := cpu.Percent(0, false); err == nil && len(cpuuse) > 0 {
		fields = append(fields, zap.Float64("cpu_percent", cpuuse[0]))
	}
	if meminfo, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, zap.Uint64("mem_used_mb", meminfo.Used/1024/1024))
	}
	zap.L().Debug("system monitor", fields...)
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err != nil {
		return
	}
	fields := make([]zap.Field, 0, 2)
	if cpuuse, err := p.CPUPercent(); err == nil {
		fields = append(fields, zap.Float64("cpu_percent", cpuuse))
	}
	if meminfo, err := p.MemoryInfo(); err == nil {
		fields = append(fields, zap.Uint64("rss_mb", meminfo.RSS/1024/1024))
	}
	zap.L().Debug("process monitor", fields...)
}
