package app

import (
	"github.com/robfig/cron/v3"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/session"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// SessionProvider provides the instance controller
type SessionProvider interface {
	Sessions() *session.Controller
}

// AppContext combines all provider interfaces for full application context
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	SessionProvider

	MigrateDB(track bool) error
}
