package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/centsible/identity-service/internal/core/domain"
)

const sessionKeyPrefix = "session:"

// RedisSessionStore implements domain.SessionStore on Redis. Sessions are
// stored as JSON under session:<id> with a TTL matching the session expiry,
// so expired sessions disappear without a reaper.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore creates a new RedisSessionStore.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// NewRedisClient connects to Redis and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Create inserts a new session.
func (s *RedisSessionStore) Create(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return errors.New("session already expired")
	}
	return s.client.Set(ctx, sessionKey(session.ID), data, ttl).Err()
}

// Get returns the session with the given id.
// Returns (nil, nil) when no session is found.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// SetImpersonation marks the session as impersonating.
func (s *RedisSessionStore) SetImpersonation(ctx context.Context, id string, originalAdminID, impersonatedUserID int) error {
	return s.update(ctx, id, func(sess *domain.Session) {
		sess.IsImpersonating = true
		sess.OriginalAdminID = originalAdminID
		sess.ImpersonatedUserID = impersonatedUserID
	})
}

// ClearImpersonation resets the session to its not-impersonating shape.
func (s *RedisSessionStore) ClearImpersonation(ctx context.Context, id string) error {
	return s.update(ctx, id, func(sess *domain.Session) {
		sess.IsImpersonating = false
		sess.OriginalAdminID = 0
		sess.ImpersonatedUserID = 0
	})
}

// Delete destroys the session.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

// update rewrites the stored session under a WATCH so concurrent writers on
// the same session retry instead of clobbering each other.
func (s *RedisSessionStore) update(ctx context.Context, id string, mutate func(*domain.Session)) error {
	key := sessionKey(id)
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return errors.New("session not found")
			}
			return err
		}

		var sess domain.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}

		mutate(&sess)

		updated, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		ttl := time.Until(sess.ExpiresAt)
		if ttl <= 0 {
			return errors.New("session already expired")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}
