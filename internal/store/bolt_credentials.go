package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var credentialBucket = []byte("credentials")

// BoltCredentials keeps credential material in a local bbolt file.
type BoltCredentials struct {
	db *bolt.DB
}

func OpenBoltCredentials(path string) (*BoltCredentials, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt credentials %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create credentials bucket")
	}
	return &BoltCredentials{db: db}, nil
}

func (b *BoltCredentials) Save(_ context.Context, instanceID string, material []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialBucket).Put([]byte(instanceID), material)
	})
	return errors.Wrapf(err, "save credential for %s", instanceID)
}

func (b *BoltCredentials) Load(_ context.Context, instanceID string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(credentialBucket).Get([]byte(instanceID))
		if v != nil {
			// bolt values are only valid inside the transaction
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load credential for %s", instanceID)
	}
	return out, nil
}

func (b *BoltCredentials) Delete(_ context.Context, instanceID string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialBucket).Delete([]byte(instanceID))
	})
	return errors.Wrapf(err, "delete credential for %s", instanceID)
}

func (b *BoltCredentials) Close() error {
	return b.db.Close()
}
