package redis

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/studytrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

// Create stores a new session and indexes it under its user
func (s *sessionStore) Create(ctx context.Context, session storage.Session) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(session.ID),
			"id", session.ID,
			"user_id", session.UserID,
			"timezone", session.Timezone,
			"created_at", formatTime(session.CreatedAt),
			"interval_count", 0,
			"closed", "0",
			"closed_at", "",
			"cancelled", "0",
		)
		pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
		return nil
	})
	return err
}

// Get retrieves a session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}

	return parseSession(data)
}

// MarkClosed closes a session exactly once
func (s *sessionStore) MarkClosed(ctx context.Context, id string, closedAt time.Time, cancelled bool) (bool, error) {
	script := redis.NewScript(closeSessionScript)

	keys := []string{sessionKey(id)}
	args := []interface{}{formatTime(closedAt), boolString(cancelled)}

	result, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return false, err
	}

	switch result {
	case resultOK:
		return true, nil
	case resultClosed:
		return false, nil
	default:
		return false, scriptError(result)
	}
}

// IntervalIDs returns the session's interval IDs in order
func (s *sessionStore) IntervalIDs(ctx context.Context, id string) ([]string, error) {
	return s.client.LRange(ctx, sessionIntervalsKey(id), 0, -1).Result()
}

// ListByUser returns the IDs of every session the user owns
func (s *sessionStore) ListByUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
