package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/qrcache"
	"github.com/talkincode/wagateway/internal/store"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.System.Workdir = t.TempDir()
	cfg.Web.ApiKey = "k"
	cfg.Database.Type = "sqlite"
	cfg.Database.Dsn = ""
	return &cfg
}

func TestInitWiresSessionStack(t *testing.T) {
	a := NewApplication(testConfig(t))
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(a.Release)

	require.NotNil(t, a.Sessions())
	assert.Equal(t, 0, a.Sessions().Sessions())
	assert.True(t, a.DB().Migrator().HasTable(&domain.Instance{}))
	assert.True(t, a.DB().Migrator().HasTable(&domain.Credential{}))
	assert.Len(t, a.Scheduler().Entries(), 3)

	assert.Equal(t, 0, a.ResumeSessions(context.Background()))
	a.SchedTouchLastSeen()
}

func TestNewCredentialStore(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.InitDirs())

	cfg.Session.CredentialBackend = "bolt"
	creds, closeFn, err := newCredentialStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	assert.IsType(t, &store.BoltCredentials{}, creds)

	ctx := context.Background()
	require.NoError(t, creds.Save(ctx, "a", []byte("jid")))
	got, err := creds.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("jid"), got)

	cfg.Session.CredentialBackend = "database"
	creds, _, err = newCredentialStore(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.GormCredentials{}, creds)
}

func TestNewQRCache(t *testing.T) {
	cfg := testConfig(t)

	cache, _, err := newQRCache(cfg)
	require.NoError(t, err)
	assert.IsType(t, &qrcache.Memory{}, cache)

	mr := miniredis.RunT(t)
	cfg.Redis.Url = "redis://" + mr.Addr()
	cache, closeFn, err := newQRCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	assert.IsType(t, &qrcache.Redis{}, cache)
}

func TestDSN(t *testing.T) {
	cfg := config.DBConfig{Name: "wa.db"}
	assert.Equal(t, "file:/data/wa.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", sqliteDSN(cfg, "/data"))

	pg := config.DBConfig{Host: "db", Port: 5432, User: "u", Passwd: "p", Name: "wa"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=wa sslmode=disable", postgresDSN(pg))
	pg.Dsn = "postgres://u:p@db/wa"
	assert.Equal(t, pg.Dsn, postgresDSN(pg))
}
