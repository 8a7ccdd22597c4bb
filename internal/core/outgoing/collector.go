package outgoing

import (
	"sync"

	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

// Envelope is one message on its way to the scene runtime.
type Envelope struct {
	Type      crdt.MessageType
	Entity    crdt.Entity
	Component crdt.ComponentID
	Timestamp int32
	Data      []byte
}

func envelopeOf(msg crdt.Message) Envelope {
	return Envelope{
		Type:      msg.Type,
		Entity:    msg.Entity,
		Component: msg.Component,
		Timestamp: msg.Timestamp,
		Data:      msg.Data,
	}
}

// Message turns the envelope back into a protocol message.
func (e Envelope) Message() crdt.Message {
	return crdt.Message{
		Type:      e.Type,
		Entity:    e.Entity,
		Component: e.Component,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}
}

type lwwKey struct {
	entity    crdt.Entity
	component crdt.ComponentID
}

type pending struct {
	envelope Envelope
	dropped  bool
}

// Collector accumulates messages produced by the host world until the next
// drain. Writes to the same lww slot inside one window coalesce into the
// latest one; appends are kept in order.
type Collector struct {
	mu            sync.Mutex
	queue         []pending
	lww           map[lwwKey]int
	live          int
	payloadLength int
}

func NewCollector() *Collector {
	return &Collector{lww: make(map[lwwKey]int)}
}

func (c *Collector) Add(processed crdt.ProcessedMessage) {
	msg := processed.Message

	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case crdt.MessagePutComponent, crdt.MessageDeleteComponent:
		key := lwwKey{entity: msg.Entity, component: msg.Component}
		if idx, ok := c.lww[key]; ok {
			c.drop(idx)
		}
		c.lww[key] = len(c.queue)
	case crdt.MessageDeleteEntity:
		for key, idx := range c.lww {
			if key.entity == msg.Entity {
				c.drop(idx)
				delete(c.lww, key)
			}
		}
	}

	c.queue = append(c.queue, pending{envelope: envelopeOf(msg)})
	c.live++
	c.payloadLength += len(msg.Data)
}

// Drain returns the accumulated messages in production order and starts a new window.
func (c *Collector) Drain() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live == 0 {
		c.reset()
		return nil
	}

	out := make([]Envelope, 0, c.live)
	for _, p := range c.queue {
		if !p.dropped {
			out = append(out, p.envelope)
		}
	}
	c.reset()
	return out
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// PayloadLength sums the payload bytes waiting to be drained.
func (c *Collector) PayloadLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloadLength
}

func (c *Collector) drop(idx int) {
	p := &c.queue[idx]
	if p.dropped {
		return
	}
	p.dropped = true
	c.live--
	c.payloadLength -= len(p.envelope.Data)
}

func (c *Collector) reset() {
	clear(c.queue)
	c.queue = c.queue[:0]
	clear(c.lww)
	c.live = 0
	c.payloadLength = 0
}
