package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/studytrack/internal/config"
	"github.com/goodtune/studytrack/internal/interval"
	"github.com/goodtune/studytrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	sessionStore  *sessionStore
	intervalStore *intervalStore
	statsStore    *statsStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// A host that already carries a port (as miniredis hands out) is used verbatim
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:        client,
		sessionStore:  &sessionStore{client: client},
		intervalStore: &intervalStore{client: client},
		statsStore:    &statsStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Intervals returns the IntervalStore implementation
func (s *Store) Intervals() storage.IntervalStore {
	return s.intervalStore
}

// Stats returns the StatsStore implementation
func (s *Store) Stats() storage.StatsStore {
	return s.statsStore
}

// scriptError maps a non-OK script result onto a sentinel error.
func scriptError(result string) error {
	switch result {
	case resultOK, resultAlready:
		return nil
	case resultNotFound:
		return storage.ErrNotFound
	case resultConflict, resultFinalized:
		return storage.ErrConflict
	case resultClosed:
		return storage.ErrSessionClosed
	case resultPrecedingOpen:
		return interval.ErrPrecedingIntervalNotFinalized
	case resultNotFinal:
		return fmt.Errorf("interval is not finalized")
	default:
		return fmt.Errorf("unexpected script result: %s", result)
	}
}
