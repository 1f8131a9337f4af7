// Package judge decides whether submitted evidence proves a task was done.
// The engine treats every judge as opaque: it never inspects the image itself.
package judge

import (
	"context"
	"sync"
)

// Evidence is what a player submits for a duel-bound task.
type Evidence struct {
	Image           []byte
	ContentType     string
	TaskTitle       string
	TaskDescription string
}

// Verdict is a judge's decision.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Judge evaluates evidence.
type Judge interface {
	Judge(ctx context.Context, ev Evidence) (Verdict, error)
}

// Func adapts a function to the Judge interface.
type Func func(ctx context.Context, ev Evidence) (Verdict, error)

// Judge calls f.
func (f Func) Judge(ctx context.Context, ev Evidence) (Verdict, error) {
	return f(ctx, ev)
}

// Static returns a fixed verdict and records what it was asked.
type Static struct {
	Verdict Verdict
	Err     error

	mu    sync.Mutex
	calls []Evidence
}

// Approve returns a Static judge that accepts everything.
func Approve() *Static {
	return &Static{Verdict: Verdict{Approved: true, Reason: "approved"}}
}

// Reject returns a Static judge that rejects everything with reason.
func Reject(reason string) *Static {
	return &Static{Verdict: Verdict{Reason: reason}}
}

// Judge implements Judge.
func (s *Static) Judge(_ context.Context, ev Evidence) (Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ev)
	return s.Verdict, s.Err
}

// Calls returns the evidence the judge has seen.
func (s *Static) Calls() []Evidence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Evidence(nil), s.calls...)
}
