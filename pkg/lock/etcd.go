package lock

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdLocker serializes per-vault operations across service instances
// using etcd mutexes. Each Acquire opens a short-lived session so a
// crashed holder releases its locks when the lease expires.
type EtcdLocker struct {
	client *clientv3.Client
	prefix string
	ttl    int
}

// EtcdConfig holds etcd locker configuration.
type EtcdConfig struct {
	Endpoints   []string
	Prefix      string
	SessionTTL  int
	DialTimeout time.Duration
}

// NewEtcdLocker connects to etcd and returns a distributed locker.
func NewEtcdLocker(cfg EtcdConfig) (*EtcdLocker, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/collateralvault/locks"
	}
	ttl := cfg.SessionTTL
	if ttl == 0 {
		ttl = 10
	}
	return &EtcdLocker{client: client, prefix: prefix, ttl: ttl}, nil
}

// Acquire takes the distributed mutex for the key.
func (l *EtcdLocker) Acquire(ctx context.Context, key string) (func(), error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to open etcd session: %w", err)
	}

	mutex := concurrency.NewMutex(session, l.prefix+"/"+key)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Best effort: the session lease expires regardless.
		mutex.Unlock(context.Background())
		session.Close()
	}, nil
}

// Close releases the etcd client.
func (l *EtcdLocker) Close() error {
	return l.client.Close()
}
