package upload

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

const DefaultMaxChunks = 512

var (
	ErrInvalidChunk       = fmt.Errorf("invalid chunk: %w", types.ErrBadRequest)
	ErrIncompleteAssembly = fmt.Errorf("upload: %w", types.ErrIncompleteAssembly)
)

// Key identifies one in-flight upload. Two senders in the same
// conversation never share a session.
type Key struct {
	ConversationId string
	SenderId       int
}

type Result struct {
	Complete bool
	Data     []byte
}

type session struct {
	mu           sync.Mutex
	total        int
	chunks       [][]byte
	received     map[int]struct{}
	lastActivity time.Time
	closed       bool
}

// Reassembler collects base64-decoded chunks of binary messages and hands
// back the concatenated payload once every chunk of a session arrived.
type Reassembler struct {
	mu        sync.Mutex
	sessions  map[Key]*session
	maxChunks int
	now       func() time.Time
}

func NewReassembler(maxChunks int) *Reassembler {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}

	return &Reassembler{
		sessions:  make(map[Key]*session),
		maxChunks: maxChunks,
		now:       time.Now,
	}
}

func (r *Reassembler) validate(chunkIndex, totalChunks int) error {
	if totalChunks < 1 {
		return fmt.Errorf("total chunks %d: %w", totalChunks, ErrInvalidChunk)
	}
	if totalChunks > r.maxChunks {
		return fmt.Errorf("total chunks %d exceeds limit %d: %w", totalChunks, r.maxChunks, ErrInvalidChunk)
	}
	if chunkIndex < 0 || chunkIndex >= totalChunks {
		return fmt.Errorf("chunk index %d out of range [0,%d): %w", chunkIndex, totalChunks, ErrInvalidChunk)
	}
	return nil
}

func (r *Reassembler) session(key Key, totalChunks int) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok {
		s = &session{
			total:        totalChunks,
			chunks:       make([][]byte, totalChunks),
			received:     make(map[int]struct{}, totalChunks),
			lastActivity: r.now(),
		}
		r.sessions[key] = s
	}
	return s
}

func (r *Reassembler) remove(key Key, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[key]; ok && cur == s {
		delete(r.sessions, key)
	}
}

// Accept stores one chunk. Exactly one call per session returns a
// complete result. An invalid chunk leaves the session untouched.
func (r *Reassembler) Accept(key Key, chunkIndex, totalChunks int, payload []byte) (Result, error) {
	if err := r.validate(chunkIndex, totalChunks); err != nil {
		return Result{}, err
	}

	for {
		s := r.session(key, totalChunks)

		s.mu.Lock()
		if s.closed {
			// completed or dropped while we waited; start over on the map
			s.mu.Unlock()
			continue
		}

		res, err := r.acceptLocked(key, s, chunkIndex, totalChunks, payload)
		s.mu.Unlock()
		return res, err
	}
}

func (r *Reassembler) acceptLocked(key Key, s *session, chunkIndex, totalChunks int, payload []byte) (Result, error) {
	if totalChunks != s.total {
		return Result{}, fmt.Errorf("total chunks %d does not match session total %d: %w", totalChunks, s.total, ErrInvalidChunk)
	}

	s.lastActivity = r.now()

	if _, dup := s.received[chunkIndex]; dup {
		return Result{}, nil
	}

	s.chunks[chunkIndex] = bytes.Clone(payload)
	s.received[chunkIndex] = struct{}{}

	if len(s.received) < s.total {
		return Result{}, nil
	}

	s.closed = true
	r.remove(key, s)

	size := 0
	for i, chunk := range s.chunks {
		if chunk == nil {
			return Result{}, fmt.Errorf("chunk %d missing: %w", i, ErrIncompleteAssembly)
		}
		size += len(chunk)
	}

	data := make([]byte, 0, size)
	for _, chunk := range s.chunks {
		data = append(data, chunk...)
	}

	return Result{Complete: true, Data: data}, nil
}

// Abort drops the session for key, if any.
func (r *Reassembler) Abort(key Key) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if ok {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	}
}

// Sweep drops every session idle for longer than maxIdle and returns how
// many were dropped.
func (r *Reassembler) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	pending := make(map[Key]*session, len(r.sessions))
	for key, s := range r.sessions {
		pending[key] = s
	}
	r.mu.Unlock()

	// session locks are always taken before the map lock
	n := 0
	for key, s := range pending {
		s.mu.Lock()
		if !s.closed && s.lastActivity.Before(cutoff) {
			s.closed = true
			r.remove(key, s)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Len reports the number of pending sessions.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
