package engine

import (
	"context"
	"sync"
)

// fakeStore is an in-memory StateStore that remembers the last snapshot.
type fakeStore struct {
	mu      sync.Mutex
	snap    *Snapshot
	saves   int
	loadErr error
	saveErr error
}

func (s *fakeStore) Load() (*Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	if s.snap == nil {
		return nil, false, nil
	}
	return s.snap, true, nil
}

func (s *fakeStore) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snap = snap
	return nil
}

func (s *fakeStore) lastSnapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// fakeDispatcher records deliveries and fails the channels it is told to.
type fakeDispatcher struct {
	mu           sync.Mutex
	deliveries   []Delivery
	failChannels map[string]error
	onDispatch   func()
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, del Delivery) []ChannelResult {
	if d.onDispatch != nil {
		d.onDispatch()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, del)
	results := make([]ChannelResult, 0, len(del.Channels))
	for _, ch := range del.Channels {
		var err error
		if d.failChannels != nil {
			err = d.failChannels[ch]
		}
		results = append(results, ChannelResult{Channel: ch, Err: err})
	}
	return results
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deliveries)
}

func (d *fakeDispatcher) last() Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deliveries[len(d.deliveries)-1]
}

func (d *fakeDispatcher) all() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}

func (d *fakeDispatcher) totalEvents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, del := range d.deliveries {
		n += len(del.Events)
	}
	return n
}
