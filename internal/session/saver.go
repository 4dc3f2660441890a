package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samsaffron/term-relay/internal/llm"
)

const saveTimeout = 30 * time.Second

type saveJob struct {
	messages  []llm.Message
	directory string
	id        string
}

// Saver persists logs on a background goroutine so callers never wait on disk.
// Jobs run in FIFO order. A queued job for an id is replaced by a newer one,
// since each save writes the whole log.
type Saver struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []saveJob
	busy    bool
	closed  bool
	stopped chan struct{}
}

// NewSaver starts a saver writing to store.
func NewSaver(store Store, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Saver{
		store:   store,
		logger:  logger,
		stopped: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Enqueue schedules a save of messages under id. It returns immediately.
// Enqueue after Close is ignored.
func (s *Saver) Enqueue(messages []llm.Message, directory, id string) {
	job := saveJob{
		messages:  append([]llm.Message(nil), messages...),
		directory: directory,
		id:        id,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.queue {
		if s.queue[i].id == id {
			s.queue[i] = job
			return
		}
	}
	s.queue = append(s.queue, job)
	s.cond.Broadcast()
}

// Flush blocks until every queued save has finished.
func (s *Saver) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 || s.busy {
		s.cond.Wait()
	}
}

// Close drains the queue and stops the worker.
func (s *Saver) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.stopped
}

func (s *Saver) run() {
	defer close(s.stopped)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.busy = true
		s.mu.Unlock()

		s.save(job)

		s.mu.Lock()
		s.busy = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *Saver) save(job saveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if _, err := s.store.Save(ctx, job.messages, job.directory, job.id); err != nil {
		s.logger.Warn("session save failed", "session", job.id, "messages", len(job.messages), "error", err)
		return
	}
	s.logger.Debug("session saved", "session", job.id, "messages", len(job.messages))
}
