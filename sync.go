// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tabledb

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// syncPoints are named critical sections shared by every user of a
// database.  Waiters spin with a yield; there is no ordering among them.
type syncPoints struct {
	mu     sync.Mutex
	points map[string]*atomic.Bool
}

func (s *syncPoints) get(id string) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.points == nil {
		s.points = make(map[string]*atomic.Bool)
	}
	p, ok := s.points[id]
	if !ok {
		p = new(atomic.Bool)
		s.points[id] = p
	}
	return p
}

// AcquireSync enters the critical section id, waiting while another caller
// holds it.
func (h *Handler) AcquireSync(id string) {
	p := h.syncs.get(id)
	for !p.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// TryAcquireSync enters the critical section id if it is free.
func (h *Handler) TryAcquireSync(id string) bool {
	return h.syncs.get(id).CompareAndSwap(false, true)
}

// ReleaseSync leaves the critical section id.  It reports false if id was
// not held.
func (h *Handler) ReleaseSync(id string) bool {
	return h.syncs.get(id).CompareAndSwap(true, false)
}
