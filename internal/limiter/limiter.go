package limiter

import (
	"strings"
	"sync"
)

// Inflight caps concurrent upstream calls per provider:model pair.
// Slots are process-local; callers that cannot get a slot should skip
// the provider rather than queue behind it.
type Inflight struct {
	max int
	mu  sync.Mutex
	sem map[string]chan struct{}
}

func NewInflight(max int) *Inflight {
	if max <= 0 {
		max = 2
	}
	return &Inflight{max: max, sem: map[string]chan struct{}{}}
}

// Allow tries to reserve a slot for provider:model.
// Returns a release function and true if allowed; otherwise nil,false.
func (l *Inflight) Allow(provider, model string) (func(), bool) {
	key := strings.ToLower(provider) + ":" + strings.ToLower(model)
	l.mu.Lock()
	ch, ok := l.sem[key]
	if !ok {
		ch = make(chan struct{}, l.max)
		l.sem[key] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}
