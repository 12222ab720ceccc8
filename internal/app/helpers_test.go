package app

import (
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
)

type recorder struct {
	mu        sync.Mutex
	msgs      map[domain.EndpointID][]protocol.Message
	cancelled []domain.EndpointID
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[domain.EndpointID][]protocol.Message)}
}

func (r *recorder) Send(to domain.EndpointID, msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[to] = append(r.msgs[to], msg)
}

func (r *recorder) CancelPending(id domain.EndpointID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id)
}

func (r *recorder) of(id domain.EndpointID) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs[id]...)
}

func (r *recorder) types(id domain.EndpointID) []protocol.Type {
	var out []protocol.Type
	for _, m := range r.of(id) {
		out = append(out, m.Type)
	}
	return out
}

func (r *recorder) last(id domain.EndpointID) protocol.Message {
	msgs := r.of(id)
	if len(msgs) == 0 {
		return protocol.Message{}
	}
	return msgs[len(msgs)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = make(map[domain.EndpointID][]protocol.Message)
	r.cancelled = nil
}

func newTestRegistry() (*Registry, *recorder) {
	rec := newRecorder()
	return NewRegistry(rec, metrics.New()), rec
}
