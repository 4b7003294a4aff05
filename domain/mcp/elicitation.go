package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Elicitation states mirror the task state machine's terminal/non-terminal split: pending is the
// only open state, completed/cancelled/expired are terminal and idempotent to re-enter (§4.9).
const (
	ElicitationStatusPending   = "pending"
	ElicitationStatusCompleted = "completed"
	ElicitationStatusCancelled = "cancelled"
	ElicitationStatusExpired   = "expired"
)

// defaultElicitationTTL bounds how long a URL-mode elicitation stays open awaiting the external
// completion callback.
const defaultElicitationTTL = 15 * time.Minute

// ErrElicitationTerminal is returned when completing/cancelling an elicitation already in a
// terminal state.
var ErrElicitationTerminal = errors.New("mcp: elicitation already in a terminal state")

// Elicitation is a URL-mode out-of-band input request raised by a tool mid-call (§3, §4.9): the
// tool hands the caller a URL to visit, and the call resumes (or fails) once ElicitationManager's
// external callback fires.
type Elicitation struct {
	ID          string         `json:"elicitationId"`
	SessionID   string         `json:"sessionId"`
	TaskID      string         `json:"taskId,omitempty"`
	URL         string         `json:"url"`
	Message     string         `json:"message,omitempty"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Response    map[string]any `json:"response,omitempty"`
}

// ElicitationManager tracks in-flight elicitations and dispatches completion/cancel callbacks
// exactly once per elicitation, grounded on TaskManager's same guarded-map-plus-terminal-state
// idiom (§4.9 "mirrors the task lifecycle").
type ElicitationManager struct {
	mu           sync.Mutex
	elicitations map[string]*Elicitation
	onComplete   map[string]func(*Elicitation)
}

// NewElicitationManager constructs an empty elicitation manager.
func NewElicitationManager() *ElicitationManager {
	return &ElicitationManager{
		elicitations: make(map[string]*Elicitation),
		onComplete:   make(map[string]func(*Elicitation)),
	}
}

// Create opens a new elicitation bound to a session (and optionally the task it was raised from).
// onComplete, if non-nil, fires exactly once when the elicitation reaches a terminal state.
func (m *ElicitationManager) Create(sessionID, taskID, url, message string, onComplete func(*Elicitation)) *Elicitation {
	now := time.Now()
	e := &Elicitation{
		ID:        newElicitationID(),
		SessionID: sessionID,
		TaskID:    taskID,
		URL:       url,
		Message:   message,
		Status:    ElicitationStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(defaultElicitationTTL),
	}
	m.mu.Lock()
	m.elicitations[e.ID] = e
	if onComplete != nil {
		m.onComplete[e.ID] = onComplete
	}
	m.mu.Unlock()
	return e
}

// Count returns the number of elicitations currently tracked, terminal or not.
func (m *ElicitationManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.elicitations)
}

// Get returns the elicitation's current snapshot.
func (m *ElicitationManager) Get(id string) (*Elicitation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.elicitations[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Complete resolves a pending elicitation with the caller's response and fires its callback. Idempotent: a
// second Complete/Cancel call on an already-terminal elicitation returns ErrElicitationTerminal
// without re-firing the callback.
func (m *ElicitationManager) Complete(id string, response map[string]any) error {
	return m.finish(id, ElicitationStatusCompleted, response)
}

// Cancel terminates a pending elicitation without a response.
func (m *ElicitationManager) Cancel(id string) error {
	return m.finish(id, ElicitationStatusCancelled, nil)
}

func (m *ElicitationManager) finish(id, status string, response map[string]any) error {
	m.mu.Lock()
	e, ok := m.elicitations[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if isElicitationTerminal(e.Status) {
		m.mu.Unlock()
		return ErrElicitationTerminal
	}
	now := time.Now()
	e.Status = status
	e.Response = response
	e.CompletedAt = &now
	cb := m.onComplete[id]
	delete(m.onComplete, id)
	cp := *e
	m.mu.Unlock()

	if cb != nil {
		cb(&cp)
	}
	return nil
}

// Sweep expires pending elicitations past their TTL and fires their callbacks with a terminal
// expired status, then removes any elicitation that was already terminal before this sweep and is
// past its TTL. Returns the number expired plus the number removed. Called by the same cron sweeper
// as Store.SweepExpired and TaskManager.Sweep (§4.9 "cleanup").
func (m *ElicitationManager) Sweep() int {
	now := time.Now()
	var callbacks []func()
	expiredCount := 0
	removed := 0

	m.mu.Lock()
	for id, e := range m.elicitations {
		if e.Status == ElicitationStatusPending && now.After(e.ExpiresAt) {
			e.Status = ElicitationStatusExpired
			expiredCount++
			cp := *e
			if cb, ok := m.onComplete[id]; ok {
				delete(m.onComplete, id)
				callbacks = append(callbacks, func() { cb(&cp) })
			}
		} else if isElicitationTerminal(e.Status) && now.After(e.ExpiresAt) {
			delete(m.elicitations, id)
			delete(m.onComplete, id)
			removed++
		}
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return expiredCount + removed
}

func isElicitationTerminal(status string) bool {
	switch status {
	case ElicitationStatusCompleted, ElicitationStatusCancelled, ElicitationStatusExpired:
		return true
	default:
		return false
	}
}

// Elicitor is the mcpElicit entry point (§4.9): "the server invokes mcpElicit(sessionId, message,
// schema | url), which sends an elicitation/create message on the session's SSE stream." Only
// URL mode is implemented; onComplete fires once the external callback resolves the record.
type Elicitor func(sessionID, taskID, message, url string, onComplete func(*Elicitation)) (*Elicitation, error)

// elicitationCreateNotification is the JSON-RPC notification pushed onto a session's SSE stream
// when a tool raises a URL-mode elicitation (§4.9, §8 scenario 6).
type elicitationCreateNotification struct {
	JSONRPC string                  `json:"jsonrpc"`
	Method  string                  `json:"method"`
	Params  elicitationCreateParams `json:"params"`
}

type elicitationCreateParams struct {
	Mode          string `json:"mode"`
	ElicitationID string `json:"elicitationId"`
	URL           string `json:"url"`
	Message       string `json:"message,omitempty"`
}

// NewElicitor binds an ElicitationManager and StreamManager into mcpElicit: it opens the
// elicitation record, then publishes elicitation/create as a session-direct SSE message so the
// record's ID reaches exactly the stream the caller is watching (§4.7 "session-direct").
func NewElicitor(manager *ElicitationManager, streams *StreamManager) Elicitor {
	return func(sessionID, taskID, message, url string, onComplete func(*Elicitation)) (*Elicitation, error) {
		e := manager.Create(sessionID, taskID, url, message, onComplete)
		payload, err := json.Marshal(elicitationCreateNotification{
			JSONRPC: "2.0",
			Method:  "elicitation/create",
			Params: elicitationCreateParams{
				Mode:          "url",
				ElicitationID: e.ID,
				URL:           url,
				Message:       message,
			},
		})
		if err != nil {
			return e, err
		}
		return e, streams.Publish(context.Background(), sessionID, payload)
	}
}
