// Package whatsapp implements the socket provider on top of whatsmeow.
package whatsapp

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/provider"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

// Options configure the device store and outbound media handling.
type Options struct {
	// DBType is the application database type, "sqlite" or "postgres".
	DBType string
	// DSN opens a dedicated postgres connection for the device store.
	// Empty means the application *sql.DB is shared.
	DSN           string
	MaxMediaBytes int64
	MediaTimeout  time.Duration
}

// Provider opens whatsmeow clients backed by one sqlstore container.
type Provider struct {
	container *sqlstore.Container
	opts      Options
	http      *http.Client
	log       *zapLogger
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider prepares the whatsmeow device store. With a sqlite
// application database the existing connection is reused so the device
// tables live next to the gateway tables.
func NewProvider(ctx context.Context, sqlDB *sql.DB, opts Options) (*Provider, error) {
	if opts.MaxMediaBytes <= 0 {
		opts.MaxMediaBytes = 16 << 20
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = 30 * time.Second
	}
	log := newLogger("whatsmeow")

	var container *sqlstore.Container
	switch dialect := dialectOf(opts.DBType); {
	case dialect == "postgres" && opts.DSN != "":
		c, err := sqlstore.New("postgres", opts.DSN, log.Sub("store"))
		if err != nil {
			return nil, errors.Wrap(err, "open device store")
		}
		container = c
	default:
		if dialect == "sqlite3" {
			// sqlstore migrations need foreign keys
			if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
				zap.L().Warn("whatsapp: unable to enable sqlite foreign_keys pragma", zap.Error(err))
			}
		}
		container = sqlstore.NewWithDB(sqlDB, dialect, log.Sub("store"))
		if err := container.Upgrade(); err != nil {
			return nil, errors.Wrapf(err, "upgrade device store (%s)", dialect)
		}
	}

	zap.L().Info("whatsapp: device store ready", zap.String("dialect", dialectOf(opts.DBType)))
	return &Provider{
		container: container,
		opts:      opts,
		http:      &http.Client{Timeout: opts.MediaTimeout},
		log:       log,
	}, nil
}

func dialectOf(dbType string) string {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Open creates a client for the device named by cred (a JID) or a fresh
// device when cred is empty or unknown to the store, then connects it.
func (p *Provider) Open(ctx context.Context, instanceID string, cred []byte, l provider.Listener) (provider.Socket, error) {
	device, err := p.device(ctx, instanceID, cred)
	if err != nil {
		return nil, err
	}
	client := whatsmeow.NewClient(device, p.log.Sub(instanceID))
	// reconnects are decided by the session controller
	client.EnableAutoReconnect = false

	s := newSocket(instanceID, client, l, p)
	client.AddEventHandler(s.handleEvent)

	if client.Store.ID == nil {
		qrc, err := client.GetQRChannel(s.ctx)
		if err != nil {
			s.cancel()
			return nil, errors.Wrap(err, "qr channel")
		}
		go s.watchQR(qrc)
	}
	if err := client.Connect(); err != nil {
		s.cancel()
		return nil, errors.Wrap(err, "connect")
	}
	zap.L().Info("whatsapp: client connecting",
		zap.String("instance", instanceID), zap.Bool("paired", client.Store.ID != nil))
	return s, nil
}

func (p *Provider) device(ctx context.Context, instanceID string, cred []byte) (*store.Device, error) {
	if len(cred) == 0 {
		return p.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(string(cred))
	if err != nil {
		zap.L().Warn("whatsapp: unreadable credential, pairing again",
			zap.String("instance", instanceID), zap.Error(err))
		return p.container.NewDevice(), nil
	}
	dev, err := p.container.GetDevice(jid)
	if err != nil {
		return nil, errors.Wrapf(err, "load device %s", jid)
	}
	if dev == nil {
		zap.L().Warn("whatsapp: device missing from store, pairing again",
			zap.String("instance", instanceID), zap.String("jid", jid.String()))
		return p.container.NewDevice(), nil
	}
	return dev, nil
}

// Forget deletes the device keys stored for cred. Unknown devices are ignored.
func (p *Provider) Forget(ctx context.Context, instanceID string, cred []byte) error {
	if len(cred) == 0 {
		return nil
	}
	jid, err := types.ParseJID(string(cred))
	if err != nil {
		return nil
	}
	dev, err := p.container.GetDevice(jid)
	if err != nil {
		return errors.Wrapf(err, "load device %s", jid)
	}
	if dev == nil {
		return nil
	}
	if err := dev.Delete(); err != nil {
		return errors.Wrapf(err, "delete device %s", jid)
	}
	zap.L().Info("whatsapp: device keys deleted", zap.String("instance", instanceID), zap.String("jid", jid.String()))
	return nil
}
