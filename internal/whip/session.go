// Package whip publishes media to a WHIP ingestion endpoint and keeps the
// resulting WebRTC session alive.
package whip

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionInfo is the public identity of a session.
type SessionInfo struct {
	UUID              uuid.UUID
	OriginalEndpoint  string
	SessionEndpoint   string
	SessionID         string
	HandshakeFinished bool
	Stopped           bool
}

// RecoveryState holds the in-flight flags of the recovery controller.
type RecoveryState struct {
	Restarting           bool
	FullRepostInProgress bool
	LastFullRepostAt     time.Time
	Reposts              int
}

// CleanupRegistry is a LIFO list of release actions.
// Once drained, it runs pushed actions immediately.
type CleanupRegistry struct {
	mutex   sync.Mutex
	fns     []func()
	drained bool
}

// Push registers fn. nil is ignored.
func (r *CleanupRegistry) Push(fn func()) {
	if fn == nil {
		return
	}
	r.mutex.Lock()
	if r.drained {
		r.mutex.Unlock()
		fn()
		return
	}
	r.fns = append(r.fns, fn)
	r.mutex.Unlock()
}

// Len returns the number of registered actions.
func (r *CleanupRegistry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.fns)
}

// Drain empties the registry and returns its actions in reverse registration order.
func (r *CleanupRegistry) Drain() []func() {
	r.mutex.Lock()
	fns := r.fns
	r.fns = nil
	r.drained = true
	r.mutex.Unlock()

	out := make([]func(), 0, len(fns))
	for i := len(fns) - 1; i >= 0; i-- {
		out = append(out, fns[i])
	}
	return out
}

// Session is one publishing attempt.
// The mutex only guards field access, it is never held across I/O.
type Session struct {
	uuid             uuid.UUID
	originalEndpoint string

	mutex             sync.Mutex
	sessionEndpoint   string
	sessionID         string
	handshakeFinished bool
	stopped           bool
	everConnected     bool
	recovery          RecoveryState
	terminated        chan struct{}

	cleanups CleanupRegistry
}

func newSession(endpoint string) *Session {
	return &Session{
		uuid:             uuid.New(),
		originalEndpoint: endpoint,
		sessionEndpoint:  endpoint,
		terminated:       make(chan struct{}),
	}
}

func (s *Session) shortID() string {
	return hex.EncodeToString(s.uuid[:4])
}

// Info returns a snapshot of the session identity.
func (s *Session) Info() SessionInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return SessionInfo{
		UUID:              s.uuid,
		OriginalEndpoint:  s.originalEndpoint,
		SessionEndpoint:   s.sessionEndpoint,
		SessionID:         s.sessionID,
		HandshakeFinished: s.handshakeFinished,
		Stopped:           s.stopped,
	}
}

// Recovery returns a snapshot of the recovery flags.
func (s *Session) Recovery() RecoveryState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.recovery
}

func (s *Session) isStopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stopped
}

// markStopped sets the terminal flag. It returns true only for the caller that flipped it.
func (s *Session) markStopped() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	close(s.terminated)
	return true
}

// done is closed when the session is stopped.
func (s *Session) done() <-chan struct{} {
	return s.terminated
}

func (s *Session) markConnected() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.everConnected = true
}

func (s *Session) wasConnected() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.everConnected
}

// commitAnswer stores the addressing refinements of an answer.
// It returns false, leaving the session untouched, once the session is stopped.
func (s *Session) commitAnswer(ans *Answer, finishHandshake bool) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopped {
		return false
	}
	if ans.SessionEndpoint != "" {
		s.sessionEndpoint = ans.SessionEndpoint
	}
	if ans.SessionID != "" {
		s.sessionID = ans.SessionID
	}
	if finishHandshake {
		s.handshakeFinished = true
	}
	return true
}

func (s *Session) endpoint() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.sessionEndpoint != "" {
		return s.sessionEndpoint
	}
	return s.originalEndpoint
}

// beginRestart reserves the session for an in-place restart.
func (s *Session) beginRestart() (bool, string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch {
	case s.stopped:
		return false, "session stopped"
	case !s.handshakeFinished:
		return false, "handshake not finished"
	case s.recovery.Restarting:
		return false, "restart already in flight"
	case s.recovery.FullRepostInProgress:
		return false, "full re-negotiation in flight"
	}
	s.recovery.Restarting = true
	return true, ""
}

func (s *Session) endRestart() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.recovery.Restarting = false
}

// beginRepost reserves the session for a full re-negotiation.
// maxReposts <= 0 means unlimited.
func (s *Session) beginRepost(now time.Time, cooldown time.Duration, maxReposts int) (bool, string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch {
	case s.stopped:
		return false, "session stopped"
	case !s.handshakeFinished:
		return false, "handshake not finished"
	case s.recovery.FullRepostInProgress:
		return false, "full re-negotiation already in flight"
	case s.recovery.Restarting:
		return false, "restart in flight"
	case !s.recovery.LastFullRepostAt.IsZero() && now.Sub(s.recovery.LastFullRepostAt) < cooldown:
		return false, "cooldown"
	case maxReposts > 0 && s.recovery.Reposts >= maxReposts:
		return false, "re-negotiation limit reached"
	}
	s.recovery.FullRepostInProgress = true
	s.recovery.Reposts++
	return true, ""
}

func (s *Session) endRepost(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.recovery.FullRepostInProgress = false
	s.recovery.LastFullRepostAt = now
}
