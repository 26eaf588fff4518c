package challenge

import (
	"context"
	"sync"
)

// StaticLoader serves a pre-issued token for headless use. LoadErr and ExecErr
// inject faults.
type StaticLoader struct {
	Token   string
	LoadErr error
	ExecErr error
}

// Load returns a library bound to the configured token.
func (l StaticLoader) Load(ctx context.Context, _ string) (Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.LoadErr != nil {
		return nil, l.LoadErr
	}
	return &StaticLibrary{token: l.Token, execErr: l.ExecErr}, nil
}

// StaticLibrary refuses execution before readiness has been observed.
type StaticLibrary struct {
	mu      sync.Mutex
	token   string
	execErr error
	ready   bool
	closed  bool
}

func (s *StaticLibrary) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	return nil
}

func (s *StaticLibrary) Execute(_ context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.closed {
		return "", ErrNotReady
	}
	if s.execErr != nil {
		return "", s.execErr
	}
	return s.token, nil
}

func (s *StaticLibrary) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether the library was torn down.
func (s *StaticLibrary) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// QueueLoader hands out pre-issued tokens in order, one per Load, since a
// challenge token is single-use. Once the queue is empty the library yields
// no token and execution fails with ErrEmptyToken.
type QueueLoader struct {
	mu     sync.Mutex
	tokens []string
}

// NewQueueLoader returns a loader serving tokens in the given order.
func NewQueueLoader(tokens ...string) *QueueLoader {
	return &QueueLoader{tokens: append([]string(nil), tokens...)}
}

func (l *QueueLoader) Load(ctx context.Context, siteKey string) (Library, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	var token string
	if len(l.tokens) > 0 {
		token, l.tokens = l.tokens[0], l.tokens[1:]
	}
	l.mu.Unlock()
	return StaticLoader{Token: token}.Load(ctx, siteKey)
}

// Remaining reports how many tokens are left.
func (l *QueueLoader) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}
