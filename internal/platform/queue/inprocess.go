package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrSchedulerClosed = errors.New("scheduler closed")

// InProcessScheduler runs attempts on goroutines inside the current process.
// Pending delayed attempts are lost when the process exits.
type InProcessScheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	handler HandlerFunc
	timers  map[*time.Timer]struct{}
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewInProcessScheduler(logger zerolog.Logger) *InProcessScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &InProcessScheduler{
		logger: logger.With().Str("component", "inprocess-scheduler").Logger(),
		timers: make(map[*time.Timer]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handle sets the function run for each scheduled attempt.
func (s *InProcessScheduler) Handle(fn HandlerFunc) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *InProcessScheduler) Schedule(_ context.Context, patientID uuid.UUID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if s.handler == nil {
		return errors.New("scheduler has no handler")
	}

	s.wg.Add(1)
	if delay <= 0 {
		go s.run(patientID)
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.run(patientID)
	})
	s.timers[t] = struct{}{}
	return nil
}

func (s *InProcessScheduler) run(patientID uuid.UUID) {
	defer s.wg.Done()
	s.mu.Lock()
	fn := s.handler
	s.mu.Unlock()

	if err := fn(s.ctx, patientID); err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("scheduled attempt failed")
	}
}

// Pending reports the number of delayed attempts not yet started.
func (s *InProcessScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops pending timers and waits for running attempts to return.
func (s *InProcessScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
