package session

import (
	"context"

	"github.com/samsaffron/term-relay/internal/llm"
)

// NoopStore discards everything. Used when sessions are disabled.
type NoopStore struct{}

func (s *NoopStore) Save(ctx context.Context, messages []llm.Message, directory, id string) (string, error) {
	if id == "" {
		id = NewID()
	}
	return id, nil
}

func (s *NoopStore) Load(ctx context.Context, id string) (*Session, error) {
	return nil, nil
}

func (s *NoopStore) List(ctx context.Context) ([]Session, error) {
	return nil, nil
}

func (s *NoopStore) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *NoopStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return nil, nil
}

func (s *NoopStore) Close() error {
	return nil
}
