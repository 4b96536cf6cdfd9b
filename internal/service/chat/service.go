package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/z-voice/backend/internal/model/chat"
)

// HistoryLimit is the number of messages kept per session.
const HistoryLimit = 10

type session struct {
	// turn serializes whole request cycles for one session key.
	turn     sync.Mutex
	messages []chat.Message
}

// Service keeps conversation history in memory for the process lifetime.
// Sessions are created on first use and never deleted.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewService bootstraps the in-memory history store.
func NewService() *Service {
	return &Service{sessions: make(map[string]*session)}
}

func (s *Service) session(sessionID string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[sessionID]; !ok {
		sess = &session{messages: make([]chat.Message, 0, HistoryLimit)}
		s.sessions[sessionID] = sess
	}
	return sess
}

// Append adds messages to the session, creating it if needed, and keeps only
// the most recent HistoryLimit entries. The whole call is atomic.
func (s *Service) Append(sessionID string, messages ...chat.Message) {
	if len(messages) == 0 {
		return
	}
	sess := s.session(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := append(sess.messages, messages...)
	if overflow := len(merged) - HistoryLimit; overflow > 0 {
		trimmed := make([]chat.Message, HistoryLimit)
		copy(trimmed, merged[overflow:])
		merged = trimmed
	}
	sess.messages = merged
}

// History returns a copy of the session's messages, oldest first. Unknown
// sessions yield an empty slice.
func (s *Service) History(sessionID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return []chat.Message{}
	}
	copied := make([]chat.Message, len(sess.messages))
	copy(copied, sess.messages)
	return copied
}

// WithSession runs fn while holding the session's turn lock, so a
// read-history, call-LLM, append-reply cycle is not interleaved with another
// cycle on the same key. Different keys run concurrently. The wait for the
// lock is abandoned when ctx ends.
func (s *Service) WithSession(ctx context.Context, sessionID string, fn func() error) error {
	sess := s.session(sessionID)

	locked := make(chan struct{})
	go func() {
		sess.turn.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		go func() {
			<-locked
			sess.turn.Unlock()
		}()
		return ctx.Err()
	}
	defer sess.turn.Unlock()

	return fn()
}

// Sessions lists known session keys in lexical order.
func (s *Service) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
