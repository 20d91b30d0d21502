package ingest

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
	"github.com/ssupshub/cicd-anomaly-detection/internal/engine"
)

// readStep is one scripted ReadMessage result.
type readStep struct {
	ev  *alert.Event
	msg *kafka.Message
	err error
}

// fakeReader is a scripted MessageReader. Once the script is exhausted it
// calls onDrained (typically the test's cancel func) and blocks until the
// context is done.
type fakeReader struct {
	mu        sync.Mutex
	steps     []readStep
	next      int
	committed []kafka.Message
	commitErr error
	onDrained func()
}

func (r *fakeReader) ReadMessage(ctx context.Context) (*alert.Event, *kafka.Message, error) {
	r.mu.Lock()
	if r.next >= len(r.steps) {
		drained := r.onDrained
		r.mu.Unlock()
		if drained != nil {
			drained()
		}
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	step := r.steps[r.next]
	r.next++
	r.mu.Unlock()
	return step.ev, step.msg, step.err
}

func (r *fakeReader) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, *msg)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.committed...)
}

// fakeSubmitter records submitted events and fails the jobs it is told to.
type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	events  []alert.Event
	outcome engine.Outcome
	errFor  map[string]error
}

func (s *fakeSubmitter) Submit(ev alert.Event) (engine.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.errFor[ev.Job]; ok {
		return "", err
	}
	s.events = append(s.events, ev)
	outcome := s.outcome
	if outcome == "" {
		outcome = engine.OutcomeBatched
	}
	return outcome, nil
}

func (s *fakeSubmitter) submitted() []alert.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Event(nil), s.events...)
}

func (s *fakeSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
