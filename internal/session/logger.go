package session

import (
	"context"
	"sync"

	"github.com/samsaffron/term-relay/internal/llm"
)

// WarnFunc is a function that logs warnings.
type WarnFunc func(format string, args ...any)

// LoggingStore wraps a Store and reports failures through warnFunc.
// Each operation type is reported at most once per process.
type LoggingStore struct {
	Store
	warnFunc WarnFunc
	mu       sync.Mutex
	warned   map[string]bool
}

// NewLoggingStore creates a new LoggingStore wrapper.
func NewLoggingStore(store Store, warnFunc WarnFunc) *LoggingStore {
	return &LoggingStore{
		Store:    store,
		warnFunc: warnFunc,
		warned:   make(map[string]bool),
	}
}

func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil || s.warnFunc == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.warnFunc("session %s failed: %v", op, err)
}

// Save wraps Store.Save with error logging.
func (s *LoggingStore) Save(ctx context.Context, messages []llm.Message, directory, id string) (string, error) {
	got, err := s.Store.Save(ctx, messages, directory, id)
	s.logOnce("Save", err)
	return got, err
}

// Load wraps Store.Load with error logging.
func (s *LoggingStore) Load(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Store.Load(ctx, id)
	s.logOnce("Load", err)
	return sess, err
}

// Delete wraps Store.Delete with error logging.
func (s *LoggingStore) Delete(ctx context.Context, id string) error {
	err := s.Store.Delete(ctx, id)
	s.logOnce("Delete", err)
	return err
}
