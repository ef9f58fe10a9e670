// Package cache provides an optional Redis-backed persistence layer for
// runtime overrides, so that session/global overrides set through the
// control API survive a process restart. The in-memory state.Overrides
// store remains authoritative for request-path lookups; this package only
// mirrors writes to Redis and replays them back on startup.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is the minimal key/value surface the override persister needs. It
// is kept narrow and Redis-shaped (rather than a generic interface{} store)
// because overrides restore as a small set, not arbitrary blobs.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// SAdd/SMembers/SRem track the set of keys that currently carry an
	// override, so a restart can enumerate them without a Redis KEYS scan.
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...interface{}) error

	HealthCheck(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Config configures a Redis-backed Cache.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// Validate checks that Config carries enough to dial Redis.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrInvalidConfig
	}
	if c.PoolSize <= 0 {
		return ErrInvalidConfig
	}
	if c.DialTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig mirrors a local single-instance Redis with conservative
// pool and timeout settings, scaled down for a local control plane rather
// than a shared production cluster.
func DefaultConfig() *Config {
	return &Config{
		Addr:            "localhost:6379",
		PoolSize:        10,
		MinIdleConns:    1,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

// Error is a cache-layer error carrying a stable code for callers that want
// to branch on failure kind (IsNotFound, IsConnectionError) without string
// matching.
type Error struct {
	Message string
	Code    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches the underlying error that produced e.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// NewError builds a cache Error with the given message and code.
func NewError(message, code string) *Error {
	return &Error{Message: message, Code: code}
}

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = NewError("key not found", "NOT_FOUND")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = NewError("invalid cache configuration", "CONFIG_ERROR")
	// ErrConnectionFailed is returned once the cache has been closed or
	// cannot reach Redis.
	ErrConnectionFailed = NewError("connection failed", "CONNECTION_ERROR")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == "NOT_FOUND"
}

// IsConnectionError reports whether err is (or wraps) a connection failure.
func IsConnectionError(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == "CONNECTION_ERROR"
}
