// internal/store/sessions.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/models"
)

const sessionKeyPrefix = "session:"

// SessionStore persists conversation sessions in Redis with a sliding
// TTL. Sessions are small JSON documents keyed by session id.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

// Get loads a session. Returns (nil, nil) when the session does not
// exist or has expired.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.ConversationSession, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, stderrors.NewSessionLoadFailedError(sessionID, err)
	}

	var session models.ConversationSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, stderrors.NewSessionLoadFailedError(sessionID, fmt.Errorf("decode session: %w", err))
	}
	return &session, nil
}

// Put stores a session and refreshes its TTL.
func (s *SessionStore) Put(ctx context.Context, session *models.ConversationSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return stderrors.NewSessionStoreFailedError(session.ID, fmt.Errorf("encode session: %w", err))
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, raw, s.ttl).Err(); err != nil {
		return stderrors.NewSessionStoreFailedError(session.ID, err)
	}
	return nil
}

// Delete removes a session, e.g. after it reaches a terminal stage and
// has been archived.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return stderrors.NewSessionStoreFailedError(sessionID, err)
	}
	return nil
}
