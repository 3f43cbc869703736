package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions in Redis so they survive restarts and can be
// shared by several server processes. Keys carry no TTL: sessions end only
// on logout.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "identity:",
	}
}

func (r *RedisStore) key(instanceID string) string {
	return r.prefix + "session:" + instanceID
}

// byIdentity is a set of instance IDs bound to one identity.
func (r *RedisStore) byIdentity(identityID string) string {
	return r.prefix + "identity-sessions:" + identityID
}

func (r *RedisStore) Load(ctx context.Context, instanceID string) (*Session, error) {
	val, err := r.client.Get(ctx, r.key(instanceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	if s.InstanceID == "" {
		return fmt.Errorf("session: missing instance id")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(s.InstanceID), data, 0)
	if s.IdentityID != "" {
		pipe.SAdd(ctx, r.byIdentity(s.IdentityID), s.InstanceID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Delete(ctx context.Context, instanceID string) error {
	return r.client.Del(ctx, r.key(instanceID)).Err()
}

// DeleteIdentity removes every session bound to identityID. Instances that
// have since been re-bound to another identity are kept.
func (r *RedisStore) DeleteIdentity(ctx context.Context, identityID string) error {
	set := r.byIdentity(identityID)
	instances, err := r.client.SMembers(ctx, set).Result()
	if err != nil {
		return err
	}
	for _, instanceID := range instances {
		s, err := r.Load(ctx, instanceID)
		if errors.Is(err, ErrNoSession) {
			continue
		}
		if err != nil {
			return err
		}
		if s.IdentityID == identityID {
			if err := r.Delete(ctx, instanceID); err != nil {
				return err
			}
		}
	}
	return r.client.Del(ctx, set).Err()
}
