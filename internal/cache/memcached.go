package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IliaW/listing-crawler/config"
	"github.com/bradfitz/gomemcache/memcache"
)

const (
	keyPrefix    = "snapshot-"
	maxKeyLength = 250
	maxItemSize  = 1024 * 1024
)

var SnapshotTooLargeError = errors.New("snapshot is larger than the memcached item limit")

// itemStore is the part of the memcached client the snapshot store needs.
type itemStore interface {
	Set(item *memcache.Item) error
	Get(key string) (*memcache.Item, error)
	Ping() error
	Close() error
}

type SnapshotStore struct {
	client itemStore
	cfg    *config.CacheConfig
}

func NewSnapshotStore(cacheConfig *config.CacheConfig) (*SnapshotStore, error) {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		return nil, fmt.Errorf("set memcached servers: %w", err)
	}
	c := newSnapshotStore(memcache.NewFromSelector(ss), cacheConfig)
	slog.Info("pinging the memcached.")
	if err = c.client.Ping(); err != nil {
		return nil, fmt.Errorf("ping memcached: %w", err)
	}
	slog.Info("connected to memcached!")

	return c, nil
}

func newSnapshotStore(client itemStore, cacheConfig *config.CacheConfig) *SnapshotStore {
	return &SnapshotStore{client: client, cfg: cacheConfig}
}

// Save stores the snapshot under the sanitized request URL. The call honours ctx only
// before the write: the memcached client has no context support.
func (s *SnapshotStore) Save(ctx context.Context, key string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(content) > maxItemSize {
		return fmt.Errorf("%w: %d bytes", SnapshotTooLargeError, len(content))
	}
	item := &memcache.Item{
		Key:        storeKey(key),
		Value:      content,
		Expiration: int32(s.cfg.SnapshotTtl.Seconds()),
	}
	if err := s.client.Set(item); err != nil {
		return err
	}
	slog.Debug("snapshot saved.", slog.String("key", item.Key), slog.Int("size", len(content)))
	return nil
}

func (s *SnapshotStore) Get(key string) ([]byte, error) {
	it, err := s.client.Get(storeKey(key))
	if err != nil {
		return nil, err
	}
	return it.Value, nil
}

func (s *SnapshotStore) Close() {
	slog.Info("closing memcached connection.")
	err := s.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

// storeKey keeps short legal keys readable and hashes the rest.
func storeKey(key string) string {
	k := keyPrefix + key
	if len(k) <= maxKeyLength && legalKey(k) {
		return k
	}
	return keyPrefix + hashKey(key)
}

func legalKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

func hashKey(key string) string {
	hash := sha256.New()
	hash.Write([]byte(key))
	return hex.EncodeToString(hash.Sum(nil))
}
