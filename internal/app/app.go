package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/ingest"
	"github.com/talkincode/wagateway/internal/qrcache"
	"github.com/talkincode/wagateway/internal/session"
	"github.com/talkincode/wagateway/internal/store"
	"github.com/talkincode/wagateway/internal/webhook"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

// SnowflakeNode identifies this process in generated record ids.
const SnowflakeNode int64 = 1

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	instances *store.GormInstanceRepository
	creds     session.CredentialStore
	qr        qrcache.Cache
	hooks     *webhook.Dispatcher
	sessions  *session.Controller
	closers   []func() error
}

var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ SessionProvider   = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

func (a *Application) Sessions() *session.Controller {
	return a.sessions
}

// InitLogger installs the global zap logger.
func InitLogger(cfg *config.AppConfig) {
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if cfg.System.Debug {
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}
		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)
}

// Init opens the database and wires the session stack. Nothing connects
// to the chat network until an instance is started.
func (a *Application) Init(ctx context.Context) error {
	cfg := a.appConfig
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}
	if err := cfg.InitDirs(); err != nil {
		return errors.Wrap(err, "create working directories")
	}

	if a.gormDB == nil {
		db, err := getDatabase(cfg.Database, cfg.GetDataDir())
		if err != nil {
			return err
		}
		a.gormDB = db
		zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)
	}
	if err := a.MigrateDB(false); err != nil {
		return errors.Wrap(err, "migrate database")
	}

	node, err := snowflake.NewNode(SnowflakeNode)
	if err != nil {
		return errors.Wrap(err, "create id generator")
	}
	a.instances = store.NewGormInstanceRepository(a.gormDB, node)

	if err := a.initSessions(ctx); err != nil {
		a.Release()
		return err
	}
	a.initJob()
	return nil
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			if err2, ok := err1.(error); ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	return db.Migrator().AutoMigrate(domain.Tables...)
}

func (a *Application) initSessions(ctx context.Context) error {
	cfg := a.appConfig

	creds, closeCreds, err := newCredentialStore(cfg, a.gormDB)
	if err != nil {
		return err
	}
	a.creds = creds
	a.closers = append(a.closers, closeCreds)

	qr, closeQR, err := newQRCache(cfg)
	if err != nil {
		return err
	}
	a.qr = qr
	a.closers = append(a.closers, closeQR)

	a.hooks, err = webhook.New(webhook.Config{
		URL:     cfg.Webhook.Url,
		Secret:  cfg.Webhook.Secret,
		Timeout: cfg.Webhook.Timeout,
		Workers: cfg.Webhook.Workers,
	})
	if err != nil {
		return err
	}
	if cfg.Webhook.Url == "" {
		zap.L().Warn("WEBHOOK_URL is empty, events will not be delivered")
	}

	sqlDB, err := a.gormDB.DB()
	if err != nil {
		return errors.Wrap(err, "access sql handle")
	}
	wa, err := whatsapp.NewProvider(ctx, sqlDB, whatsapp.Options{
		DBType:        cfg.Database.Type,
		DSN:           cfg.Database.Dsn,
		MaxMediaBytes: cfg.Session.MaxMediaBytes,
	})
	if err != nil {
		return err
	}

	a.sessions = session.NewController(session.Deps{
		Provider:    wa,
		Instances:   a.instances,
		Credentials: a.creds,
		QR:          a.qr,
		Notifier:    a.hooks,
		Ingest:      ingest.New(a.hooks),
	}, session.Config{
		ReconnectDelay: cfg.Session.ReconnectDelay,
		MaxReconnects:  cfg.Session.MaxReconnectAttempts,
		QRTTL:          cfg.Session.QRTTL,
	}, session.WithStatusObserver(func(id string, status domain.InstanceStatus) {
		zap.L().Debug("instance status changed", zap.String("instance", id), zap.String("status", string(status)))
	}))
	return nil
}

// ResumeSessions restarts the instances that were live at the last shutdown.
func (a *Application) ResumeSessions(ctx context.Context) int {
	records, err := a.instances.ListByStatus(ctx, domain.LiveStatuses()...)
	if err != nil {
		zap.L().Error("list resumable instances failed", zap.Error(err))
		return 0
	}
	n := 0
	for _, rec := range records {
		if _, err := a.sessions.Start(ctx, rec.InstanceID); err != nil {
			zap.L().Warn("resume instance failed", zap.String("instance", rec.InstanceID), zap.Error(err))
			continue
		}
		n++
	}
	zap.L().Info("resumed instances", zap.Int("count", n), zap.Int("candidates", len(records)))
	return n
}

// Release closes sockets without logging out, drains webhooks and closes stores.
func (a *Application) Release() {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if a.sessions != nil {
		a.sessions.Shutdown()
	}
	if a.hooks != nil {
		a.hooks.Close()
	}
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	if a.gormDB != nil {
		if sqlDB, dbErr := a.gormDB.DB(); dbErr == nil {
			err = multierr.Append(err, sqlDB.Close())
		}
	}
	if err != nil {
		zap.L().Warn("release resources", zap.Error(err))
	}
	_ = zap.L().Sync()
}
