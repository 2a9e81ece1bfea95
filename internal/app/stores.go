package app

import (
	"path/filepath"

	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/qrcache"
	"github.com/talkincode/wagateway/internal/session"
	"github.com/talkincode/wagateway/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func nopClose() error { return nil }

func newCredentialStore(cfg *config.AppConfig, db *gorm.DB) (session.CredentialStore, func() error, error) {
	if cfg.Session.CredentialBackend == "bolt" {
		b, err := store.OpenBoltCredentials(filepath.Join(cfg.GetDataDir(), "credentials.db"))
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("credential store: bolt")
		return b, b.Close, nil
	}
	zap.L().Info("credential store: database")
	return store.NewGormCredentials(db), nopClose, nil
}

func newQRCache(cfg *config.AppConfig) (qrcache.Cache, func() error, error) {
	if cfg.Redis.Url != "" {
		r, err := qrcache.NewRedisFromURL(cfg.Redis.Url)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("qr cache: redis")
		return r, r.Close, nil
	}
	zap.L().Info("qr cache: memory")
	return qrcache.NewMemory(), nopClose, nil
}
