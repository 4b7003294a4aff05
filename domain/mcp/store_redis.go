package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore is the distributed Store backing. It follows the wrapper idiom of
// goadesign-goa-ai's pulse client (typed interface over a *redis.Client, constructor validates
// required fields, every operation namespaced under a stable key prefix) rather than that
// package's stream/consumer-group API, since session/stream state here is addressable keyed state,
// not an append-only event log.
type redisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisStoreOptions configures the distributed Store variant.
type RedisStoreOptions struct {
	// Client is the Redis connection used to back session/stream state. Required.
	Client *redis.Client
	// KeyPrefix namespaces all keys this store writes. Defaults to "mcp:".
	KeyPrefix string
}

// NewRedisStore constructs the Redis-backed Store variant.
func NewRedisStore(opts RedisStoreOptions) (Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mcp: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "mcp:"
	}
	return &redisStore{rdb: opts.Client, prefix: prefix}, nil
}

func (s *redisStore) sessionKey(id string) string      { return s.prefix + "session:" + id }
func (s *redisStore) streamKey(id string) string       { return s.prefix + "stream:" + id }
func (s *redisStore) streamHistKey(id string) string   { return s.prefix + "stream-hist:" + id }
func (s *redisStore) sessionHistKey(id string) string  { return s.prefix + "session-hist:" + id }
func (s *redisStore) tokenIndexKey(hash string) string { return s.prefix + "token:" + hash }

func (s *redisStore) Create(ctx context.Context, id string, meta SessionMeta) (*Session, error) {
	now := time.Now()
	sess := &Session{ID: id, CreatedAt: now, LastActivity: now, Auth: meta.Auth}
	if err := s.putSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *redisStore) putSession(ctx context.Context, sess *Session) error {
	blob, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.rdb.Set(ctx, s.sessionKey(sess.ID), blob, 0).Err()
}

func (s *redisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	blob, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *redisStore) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	keys := []string{s.sessionKey(sessionID), s.sessionHistKey(sessionID)}
	for _, streamID := range sess.StreamIDs {
		keys = append(keys, s.streamKey(streamID), s.streamHistKey(streamID))
	}
	if sess.Auth != nil {
		keys = append(keys, s.tokenIndexKey(sess.Auth.TokenHash))
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *redisStore) CreateStream(ctx context.Context, sessionID string) (*Stream, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stream := &Stream{ID: newStreamID(), SessionID: sessionID, CreatedAt: time.Now()}
	blob, err := json.Marshal(stream)
	if err != nil {
		return nil, fmt.Errorf("encode stream: %w", err)
	}
	if err := s.rdb.Set(ctx, s.streamKey(stream.ID), blob, 0).Err(); err != nil {
		return nil, err
	}
	sess.StreamIDs = append(sess.StreamIDs, stream.ID)
	if err := s.putSession(ctx, sess); err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *redisStore) DeleteStream(ctx context.Context, sessionID, streamID string) error {
	if err := s.rdb.Del(ctx, s.streamKey(streamID), s.streamHistKey(streamID)).Err(); err != nil {
		return err
	}
	sess, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sess.StreamIDs = removeString(sess.StreamIDs, streamID)
	return s.putSession(ctx, sess)
}

func (s *redisStore) TouchStream(ctx context.Context, sessionID, streamID string) error {
	if err := s.rdb.Exists(ctx, s.streamKey(streamID)).Err(); err != nil {
		return err
	}
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastActivity = time.Now()
	return s.putSession(ctx, sess)
}

func (s *redisStore) AddMessage(ctx context.Context, sessionID, streamID string, payload json.RawMessage) (int64, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	sess.LastActivity = time.Now()
	if err := s.putSession(ctx, sess); err != nil {
		return 0, err
	}

	histKey := s.sessionHistKey(sessionID)
	limit := int64(sessionHistoryLimit)
	if streamID != "" {
		if s.rdb.Exists(ctx, s.streamKey(streamID)).Val() == 0 {
			return 0, ErrNotFound
		}
		histKey = s.streamHistKey(streamID)
		limit = streamHistoryLimit
	}

	id, err := s.rdb.Incr(ctx, histKey+":seq").Result()
	if err != nil {
		return 0, err
	}
	entry := StoredMessage{EventID: id, Payload: payload, CreatedAt: time.Now()}
	blob, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, histKey, blob)
	pipe.LTrim(ctx, histKey, -limit, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *redisStore) MessagesSince(ctx context.Context, sessionID, streamID string, lastEventID int64) ([]StoredMessage, error) {
	histKey := s.sessionHistKey(sessionID)
	if streamID != "" {
		if s.rdb.Exists(ctx, s.streamKey(streamID)).Val() == 0 {
			return nil, ErrNotFound
		}
		histKey = s.streamHistKey(streamID)
	} else if s.rdb.Exists(ctx, s.sessionKey(sessionID)).Val() == 0 {
		return nil, ErrNotFound
	}

	raw, err := s.rdb.LRange(ctx, histKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StoredMessage, 0, len(raw))
	for _, item := range raw {
		var m StoredMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		if m.EventID > lastEventID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *redisStore) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	sessionID, err := s.rdb.Get(ctx, s.tokenIndexKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, sessionID)
}

func (s *redisStore) BindToken(ctx context.Context, tokenHash, sessionID string) error {
	if s.rdb.Exists(ctx, s.sessionKey(sessionID)).Val() == 0 {
		return ErrNotFound
	}
	return s.rdb.Set(ctx, s.tokenIndexKey(tokenHash), sessionID, 0).Err()
}

func (s *redisStore) UpdateAuthorization(ctx context.Context, sessionID string, authCtx *AuthorizationContext, refresh *TokenRefreshBlock) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Auth = authCtx
	sess.Refresh = refresh
	return s.putSession(ctx, sess)
}

// SweepExpired scans the session key space. Redis SCAN is used rather than KEYS to avoid blocking
// the server under load, matching the teacher's preference for non-blocking I/O at every boundary
// (§5 "Suspension points").
func (s *redisStore) SweepExpired(ctx context.Context, idleTTL time.Duration) (int, error) {
	removed := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+"session:*", 100).Iterator()
	now := time.Now()
	for iter.Next(ctx) {
		blob, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(blob, &sess); err != nil {
			continue
		}
		if len(sess.StreamIDs) > 0 || now.Sub(sess.LastActivity) < idleTTL {
			continue
		}
		if err := s.Delete(ctx, sess.ID); err == nil {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Ping checks Redis connectivity directly, without touching session state.
func (s *redisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
