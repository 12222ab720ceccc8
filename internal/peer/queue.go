package peer

import "github.com/dkeye/Huddle/internal/domain"

type queued struct {
	env      domain.Envelope
	attempts int
}

// envelopeQueue is the per-link FIFO of envelopes waiting to be applied.
type envelopeQueue struct {
	items []queued
}

func (q *envelopeQueue) push(env domain.Envelope) {
	q.items = append(q.items, queued{env: env})
}

// requeue puts an item back at the head so it is retried before newer ones.
func (q *envelopeQueue) requeue(it queued) {
	q.items = append([]queued{it}, q.items...)
}

func (q *envelopeQueue) pop() (queued, bool) {
	if len(q.items) == 0 {
		return queued{}, false
	}
	it := q.items[0]
	q.items[0] = queued{}
	q.items = q.items[1:]
	return it, true
}

func (q *envelopeQueue) len() int { return len(q.items) }

// take empties the queue and returns its envelopes in order.
func (q *envelopeQueue) take() []domain.Envelope {
	out := make([]domain.Envelope, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.env)
	}
	q.items = nil
	return out
}

func (q *envelopeQueue) clear() { q.items = nil }
