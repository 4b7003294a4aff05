package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// memoryStore is the in-process Store backing, grounded on the teacher's EventStore
// (sync.RWMutex + maps, pruned to a max count), generalized from session-only history to
// per-stream history plus session metadata and the token→session index (§4.2).
type memoryStore struct {
	mu sync.RWMutex

	sessions map[string]*Session
	streams  map[string]*Stream // streamID -> Stream

	streamHistory  map[string][]StoredMessage // streamID -> history
	streamNextID   map[string]int64

	sessionHistory map[string][]StoredMessage // sessionID -> broadcast history
	sessionNextID  map[string]int64

	byTokenHash map[string]string // tokenHash -> sessionID
}

// NewMemoryStore constructs the in-memory Store variant.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions:       make(map[string]*Session),
		streams:        make(map[string]*Stream),
		streamHistory:  make(map[string][]StoredMessage),
		streamNextID:   make(map[string]int64),
		sessionHistory: make(map[string][]StoredMessage),
		sessionNextID:  make(map[string]int64),
		byTokenHash:    make(map[string]string),
	}
}

func (s *memoryStore) Create(_ context.Context, id string, meta SessionMeta) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sess := &Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		Auth:         meta.Auth,
	}
	s.sessions[id] = sess
	return cloneSession(sess), nil
}

func (s *memoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *memoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, streamID := range sess.StreamIDs {
		delete(s.streams, streamID)
		delete(s.streamHistory, streamID)
		delete(s.streamNextID, streamID)
	}
	delete(s.sessionHistory, sessionID)
	delete(s.sessionNextID, sessionID)
	if sess.Auth != nil {
		delete(s.byTokenHash, sess.Auth.TokenHash)
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *memoryStore) CreateStream(_ context.Context, sessionID string) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	stream := &Stream{
		ID:        newStreamID(),
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}
	s.streams[stream.ID] = stream
	sess.StreamIDs = append(sess.StreamIDs, stream.ID)
	return cloneStream(stream), nil
}

func (s *memoryStore) DeleteStream(_ context.Context, sessionID, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamID)
	delete(s.streamHistory, streamID)
	delete(s.streamNextID, streamID)
	if sess, ok := s.sessions[sessionID]; ok {
		sess.StreamIDs = removeString(sess.StreamIDs, streamID)
	}
	return nil
}

func (s *memoryStore) TouchStream(_ context.Context, sessionID, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	stream, ok := s.streams[streamID]
	if !ok {
		return ErrNotFound
	}
	_ = stream
	s.sessions[sessionID].LastActivity = time.Now()
	return nil
}

func (s *memoryStore) AddMessage(_ context.Context, sessionID, streamID string, payload json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	sess.LastActivity = time.Now()

	if streamID == "" {
		id := s.sessionNextID[sessionID] + 1
		s.sessionNextID[sessionID] = id
		hist := append(s.sessionHistory[sessionID], StoredMessage{EventID: id, Payload: payload, CreatedAt: time.Now()})
		if len(hist) > sessionHistoryLimit {
			hist = hist[len(hist)-sessionHistoryLimit:]
		}
		s.sessionHistory[sessionID] = hist
		return id, nil
	}

	if _, ok := s.streams[streamID]; !ok {
		return 0, ErrNotFound
	}
	id := s.streamNextID[streamID] + 1
	s.streamNextID[streamID] = id
	hist := append(s.streamHistory[streamID], StoredMessage{EventID: id, Payload: payload, CreatedAt: time.Now()})
	if len(hist) > streamHistoryLimit {
		hist = hist[len(hist)-streamHistoryLimit:]
	}
	s.streamHistory[streamID] = hist
	s.streams[streamID].EventCounter = id
	return id, nil
}

func (s *memoryStore) MessagesSince(_ context.Context, sessionID, streamID string, lastEventID int64) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hist []StoredMessage
	if streamID == "" {
		if _, ok := s.sessions[sessionID]; !ok {
			return nil, ErrNotFound
		}
		hist = s.sessionHistory[sessionID]
	} else {
		if _, ok := s.streams[streamID]; !ok {
			return nil, ErrNotFound
		}
		hist = s.streamHistory[streamID]
	}

	out := make([]StoredMessage, 0, len(hist))
	for _, m := range hist {
		if m.EventID > lastEventID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) GetByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.byTokenHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *memoryStore) BindToken(_ context.Context, tokenHash, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	s.byTokenHash[tokenHash] = sessionID
	return nil
}

func (s *memoryStore) UpdateAuthorization(_ context.Context, sessionID string, authCtx *AuthorizationContext, refresh *TokenRefreshBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.Auth = authCtx
	sess.Refresh = refresh
	return nil
}

func (s *memoryStore) SweepExpired(_ context.Context, idleTTL time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if len(sess.StreamIDs) > 0 {
			continue
		}
		if now.Sub(sess.LastActivity) < idleTTL {
			continue
		}
		delete(s.sessions, id)
		delete(s.sessionHistory, id)
		delete(s.sessionNextID, id)
		if sess.Auth != nil {
			delete(s.byTokenHash, sess.Auth.TokenHash)
		}
		removed++
	}
	return removed, nil
}

// Ping always succeeds: the in-memory backing has no external dependency to probe.
func (s *memoryStore) Ping(_ context.Context) error {
	return nil
}

func cloneSession(s *Session) *Session {
	cp := *s
	cp.StreamIDs = append([]string(nil), s.StreamIDs...)
	return &cp
}

func cloneStream(s *Stream) *Stream {
	cp := *s
	return &cp
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
