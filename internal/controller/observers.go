package controller

import (
	"sync"
	"sync/atomic"

	"menu-remote/internal/connector"
	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

// Handlers receives controller events. Nil fields are skipped. Handlers run
// one at a time in event order; a slow handler delays later events but not
// the connection. Calling Stop from a handler is fine.
type Handlers struct {
	ConnectionChanged func(status connector.AuthStatus, reason string)
	MenuChanged       func(item menu.Item, structural bool)
	AckReceived       func(corr protocol.CorrelationID, status protocol.AckStatus)
	DialogUpdated     func(d protocol.Dialog)
}

type subscription struct {
	h       Handlers
	removed atomic.Bool
}

// observers is a copy-on-write subscriber list. Delivery iterates the slice
// that was current when the event started; registration swaps in a new one.
type observers struct {
	mu   sync.Mutex
	subs atomic.Pointer[[]*subscription]
}

func (o *observers) add(h Handlers) func() {
	s := &subscription{h: h}
	o.mu.Lock()
	next := append(o.snapshot(), s)
	o.subs.Store(&next)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(s) })
	}
}

func (o *observers) remove(s *subscription) {
	s.removed.Store(true)
	o.mu.Lock()
	defer o.mu.Unlock()
	cur := o.snapshot()
	next := make([]*subscription, 0, len(cur))
	for _, x := range cur {
		if x != s {
			next = append(next, x)
		}
	}
	o.subs.Store(&next)
}

// snapshot returns a copy safe to append to.
func (o *observers) snapshot() []*subscription {
	p := o.subs.Load()
	if p == nil {
		return nil
	}
	out := make([]*subscription, len(*p))
	copy(out, *p)
	return out
}

func (o *observers) each(fn func(h Handlers)) {
	p := o.subs.Load()
	if p == nil {
		return
	}
	for _, s := range *p {
		if s.removed.Load() {
			continue
		}
		fn(s.h)
	}
}

func (o *observers) len() int {
	p := o.subs.Load()
	if p == nil {
		return 0
	}
	return len(*p)
}
