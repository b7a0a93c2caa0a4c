// Package kv provides the TTL-bound key-value store backing authorization
// sessions, one-time codes, and WebAuthn challenges.
//
// Two backends exist: an in-process store for single-node deployments and
// tests, and Redis for multi-node deployments. Expiry is enforced by the
// backend (lazily on read for the in-process store); nothing in this
// package actively sweeps.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned for missing or expired keys. Callers must not be
// able to distinguish the two cases.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal TTL key-value contract. There is no partial-update
// operation; callers read-modify-write whole values.
type Store interface {
	// Set writes value under key with the given TTL, replacing any
	// existing value and its TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for key, or ErrNotFound if missing/expired.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string // redis host:port
	Password string
	DB       int
	Prefix   string // prepended to every key
}

// New creates a Store for the configured driver, defaulting to memory.
func New(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	case "", "memory":
		return NewMemory(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("kv: unknown driver %q", cfg.Driver)
	}
}
