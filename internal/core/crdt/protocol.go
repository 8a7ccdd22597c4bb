package crdt

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// DefaultMaxAppendComponents bounds the appended values kept per (entity, component).
const DefaultMaxAppendComponents = 100

// ComponentSet answers whether a component kind is known to this world.
type ComponentSet interface {
	Contains(id ComponentID) bool
}

type Option func(*Protocol)

// WithComponents makes ProcessMessage reject kinds missing from set.
func WithComponents(set ComponentSet) Option {
	return func(p *Protocol) {
		p.components = set
	}
}

func WithMaxAppendComponents(n int) Option {
	return func(p *Protocol) {
		if n > 0 {
			p.maxAppend = n
		}
	}
}

// Protocol reconciles CRDT messages against the state of one scene.
//
// ProcessMessage is the only path that mutates the state; locally created
// messages go through it exactly like remote ones. Protocol is not safe for
// concurrent use.
type Protocol struct {
	state      state
	components ComponentSet
	maxAppend  int
}

func NewProtocol(opts ...Option) *Protocol {
	p := &Protocol{
		state:     newState(),
		maxAppend: DefaultMaxAppendComponents,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessMessage decides whether msg wins against the stored state and applies it.
// Outdated messages are not errors: they yield NoChanges.
func (p *Protocol) ProcessMessage(msg Message) (ReconciliationResult, error) {
	switch msg.Type {
	case MessagePutComponent, MessageDeleteComponent, MessageAppendComponent:
		if p.components != nil && !p.components.Contains(msg.Component) {
			return ReconciliationResult{}, newError(ErrorCodeUnregisteredComponent, ErrUnregisteredComponent, msg)
		}
	case MessageDeleteEntity:
	default:
		return ReconciliationResult{}, newError(ErrorCodeUnsupportedMessage, ErrUnsupportedMessageType, msg)
	}

	number, version := msg.Entity.Number(), msg.Entity.Version()
	deletedVersion, wasDeleted := p.state.deletedEntities[number]
	if wasDeleted && deletedVersion >= version {
		return ReconciliationResult{State: StateEntityWasDeleted, Effect: NoChanges}, nil
	}

	switch msg.Type {
	case MessageDeleteEntity:
		p.deleteEntity(msg.Entity, wasDeleted)
		return ReconciliationResult{State: StateEntityDeleted, Effect: EntityDeleted}, nil
	case MessageAppendComponent:
		if p.appendComponent(msg) {
			return ReconciliationResult{State: StateAppendedData, Effect: ComponentAdded}, nil
		}
		return ReconciliationResult{State: StateNoChanges, Effect: NoChanges}, nil
	case MessageDeleteComponent:
		return p.updateLWW(msg, true), nil
	default:
		return p.updateLWW(msg, false), nil
	}
}

// EnforceLWWState writes msg into the lww state without reporting the effect.
func (p *Protocol) EnforceLWWState(msg Message) {
	p.updateLWW(msg, msg.Type == MessageDeleteComponent)
}

// CreatePutMessage wraps data into a put that supersedes the stored value.
// The state is not touched until the message is processed. Timestamps
// saturate at math.MaxInt32 instead of wrapping.
func (p *Protocol) CreatePutMessage(entity Entity, component ComponentID, data []byte) ProcessedMessage {
	return newProcessedMessage(Message{
		Type:      MessagePutComponent,
		Entity:    entity,
		Component: component,
		Timestamp: p.nextLWWTimestamp(entity, component),
		Data:      data,
	})
}

func (p *Protocol) CreateDeleteMessage(entity Entity, component ComponentID) ProcessedMessage {
	return newProcessedMessage(Message{
		Type:      MessageDeleteComponent,
		Entity:    entity,
		Component: component,
		Timestamp: p.nextLWWTimestamp(entity, component),
	})
}

func (p *Protocol) CreateAppendMessage(entity Entity, component ComponentID, data []byte) ProcessedMessage {
	var timestamp int32
	if last, ok := p.state.lastAppended(entity, component); ok {
		timestamp = nextTimestamp(last.Timestamp)
	}
	return newProcessedMessage(Message{
		Type:      MessageAppendComponent,
		Entity:    entity,
		Component: component,
		Timestamp: timestamp,
		Data:      data,
	})
}

func (p *Protocol) CreateDeleteEntityMessage(entity Entity) ProcessedMessage {
	return newProcessedMessage(Message{
		Type:   MessageDeleteEntity,
		Entity: entity,
	})
}

// MessagesCount is the number of messages CurrentState returns.
func (p *Protocol) MessagesCount() int {
	return p.state.messagesCount
}

// CurrentState describes the whole state as messages, in a deterministic order.
// Payload slices are shared with the state and must not be modified.
func (p *Protocol) CurrentState() []ProcessedMessage {
	return p.state.messages()
}

// StateDigest hashes CurrentState. Two converged sides report the same digest.
func (p *Protocol) StateDigest() uint64 {
	d := xxhash.New()
	var header [17]byte
	for _, processed := range p.state.messages() {
		msg := processed.Message
		header[0] = byte(msg.Type)
		binary.LittleEndian.PutUint32(header[1:], uint32(msg.Entity))
		binary.LittleEndian.PutUint32(header[5:], uint32(msg.Component))
		binary.LittleEndian.PutUint32(header[9:], uint32(msg.Timestamp))
		binary.LittleEndian.PutUint32(header[13:], uint32(len(msg.Data)))
		_, _ = d.Write(header[:])
		_, _ = d.Write(msg.Data)
	}
	return d.Sum64()
}

// ComponentState returns the stored lww value, tombstones included.
func (p *Protocol) ComponentState(entity Entity, component ComponentID) (EntityComponentData, bool) {
	return p.state.lwwEntry(entity, component)
}

// AppendedState returns a copy of the values appended for (entity, component).
func (p *Protocol) AppendedState(entity Entity, component ComponentID) []EntityComponentData {
	return slices.Clone(p.state.appended[component][entity])
}

// EntityComponents lists the live lww components of entity.
func (p *Protocol) EntityComponents(entity Entity) []ComponentID {
	var out []ComponentID
	for component, inner := range p.state.lww {
		if data, ok := inner[entity]; ok && !data.Deleted {
			out = append(out, component)
		}
	}
	slices.Sort(out)
	return out
}

// IsEntityDeleted reports whether entity was removed by a delete-entity message.
func (p *Protocol) IsEntityDeleted(entity Entity) bool {
	version, ok := p.state.deletedEntities[entity.Number()]
	return ok && version >= entity.Version()
}

// Reset drops the whole state.
func (p *Protocol) Reset() {
	p.state = newState()
}

func (p *Protocol) nextLWWTimestamp(entity Entity, component ComponentID) int32 {
	if stored, ok := p.state.lwwEntry(entity, component); ok {
		return nextTimestamp(stored.Timestamp)
	}
	return 0
}

// nextTimestamp saturates at math.MaxInt32. A saturated slot still accepts
// writes whose payload wins the equal-timestamp tie-break.
func nextTimestamp(ts int32) int32 {
	if ts == math.MaxInt32 {
		return ts
	}
	return ts + 1
}

func (p *Protocol) updateLWW(msg Message, isDelete bool) ReconciliationResult {
	incoming := EntityComponentData{Timestamp: msg.Timestamp, Deleted: isDelete}
	if !isDelete {
		incoming.Data = bytes.Clone(msg.Data)
	}

	stored, exists := p.state.lwwEntry(msg.Entity, msg.Component)

	if !exists || stored.Timestamp < msg.Timestamp {
		p.state.storeLWW(msg.Entity, msg.Component, incoming, exists)
		return ReconciliationResult{
			State:  StateUpdatedTimestamp,
			Effect: lwwEffect(exists, isDelete),
		}
	}

	if stored.Timestamp > msg.Timestamp {
		return ReconciliationResult{State: StateOutdatedTimestamp, Effect: NoChanges}
	}

	// Same timestamp: written concurrently on both sides. The greater value wins
	// everywhere, so both sides converge regardless of delivery order.
	switch c := compareData(stored, incoming); {
	case c == 0:
		return ReconciliationResult{State: StateNoChanges, Effect: NoChanges}
	case c > 0:
		return ReconciliationResult{State: StateOutdatedData, Effect: NoChanges}
	default:
		p.state.storeLWW(msg.Entity, msg.Component, incoming, true)
		return ReconciliationResult{
			State:  StateUpdatedData,
			Effect: lwwEffect(true, isDelete),
		}
	}
}

// A tombstone counts as an existing entry: its version is part of the state
// both sides must agree on.
func lwwEffect(existed, isDelete bool) ReconciliationEffect {
	switch {
	case existed && isDelete:
		return ComponentDeleted
	case existed:
		return ComponentModified
	case isDelete:
		return NoChanges
	default:
		return ComponentAdded
	}
}

func (p *Protocol) deleteEntity(entity Entity, wasDeleted bool) {
	p.state.deletedEntities[entity.Number()] = entity.Version()
	if !wasDeleted {
		p.state.messagesCount++
	}
	p.state.dropEntity(entity)
}

func (p *Protocol) appendComponent(msg Message) bool {
	entry := EntityComponentData{Timestamp: msg.Timestamp, Data: msg.Data}

	inner, ok := p.state.appended[msg.Component]
	if !ok {
		inner = make(map[Entity][]EntityComponentData)
		p.state.appended[msg.Component] = inner
	}

	list := inner[msg.Entity]
	idx, found := slices.BinarySearchFunc(list, entry, compareAppended)
	if found {
		return false
	}

	entry.Data = bytes.Clone(msg.Data)
	if len(list) >= p.maxAppend {
		// Cheaper than trimming the head; the scene resends what it still needs.
		p.state.messagesCount -= len(list)
		clear(list)
		list = list[:0]
		idx = 0
	}

	inner[msg.Entity] = slices.Insert(list, idx, entry)
	p.state.messagesCount++
	return true
}
