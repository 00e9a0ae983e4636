package completion

import (
	"context"
	"sync"
)

// Scripted replays a fixed list of replies, one per call.
type Scripted struct {
	mu       sync.Mutex
	replies  []string
	next     int
	requests []Request
}

func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: append([]string(nil), replies...)}
}

func (s *Scripted) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.next >= len(s.replies) {
		return nil, ErrScriptExhausted
	}
	reply := s.replies[s.next]
	s.next++
	return TextResponse(reply), nil
}

// Requests returns every request seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}
