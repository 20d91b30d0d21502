package notify

import (
	"context"
	"sync"

	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/payload"
)

// fakeSink records sends and returns a scripted error.
type fakeSink struct {
	kind string
	err  error

	mu    sync.Mutex
	calls []sinkCall
}

type sinkCall struct {
	target string
	msg    payload.Message
}

func newFakeSink(kind string) *fakeSink {
	return &fakeSink{kind: kind}
}

func (f *fakeSink) Type() string {
	return f.kind
}

func (f *fakeSink) Send(ctx context.Context, target string, msg payload.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{target: target, msg: msg})
	return f.err
}

func (f *fakeSink) sent() []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sinkCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// blockingSink waits for the context to expire before returning.
type blockingSink struct {
	kind string
}

func (b *blockingSink) Type() string {
	return b.kind
}

func (b *blockingSink) Send(ctx context.Context, target string, msg payload.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

// fakeRecorder captures journaled attempts.
type fakeRecorder struct {
	err error

	mu       sync.Mutex
	attempts []Attempt
}

func (f *fakeRecorder) RecordAttempt(ctx context.Context, attempt Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return f.err
}

func (f *fakeRecorder) recorded() []Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Attempt, len(f.attempts))
	copy(out, f.attempts)
	return out
}
