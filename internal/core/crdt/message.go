package crdt

import "fmt"

// MessageType identifies the CRDT operation carried by a Message.
type MessageType uint8

const (
	MessageNone MessageType = iota
	MessagePutComponent
	MessageDeleteComponent
	MessageDeleteEntity
	MessageAppendComponent
)

func (t MessageType) String() string {
	switch t {
	case MessagePutComponent:
		return "put_component"
	case MessageDeleteComponent:
		return "delete_component"
	case MessageDeleteEntity:
		return "delete_entity"
	case MessageAppendComponent:
		return "append_component"
	default:
		return fmt.Sprintf("message_type(%d)", uint8(t))
	}
}

// Message is a single CRDT operation. Timestamp is the per (entity, component)
// version; it only ever grows.
type Message struct {
	Type      MessageType
	Entity    Entity
	Component ComponentID
	Timestamp int32
	Data      []byte
}

func (m Message) String() string {
	return fmt.Sprintf("%s{entity=%s component=%d ts=%d len=%d}", m.Type, m.Entity, m.Component, m.Timestamp, len(m.Data))
}

// ProcessedMessage is a locally created message ready to be reconciled and shipped.
type ProcessedMessage struct {
	Message    Message
	DataLength int
}

func newProcessedMessage(msg Message) ProcessedMessage {
	return ProcessedMessage{Message: msg, DataLength: len(msg.Data)}
}

// ReconciliationEffect is what processing a message did to the observable state.
type ReconciliationEffect uint8

const (
	NoChanges ReconciliationEffect = iota
	ComponentAdded
	ComponentModified
	ComponentDeleted
	EntityDeleted
)

// Changed reports whether the effect must be propagated.
func (e ReconciliationEffect) Changed() bool {
	return e != NoChanges
}

func (e ReconciliationEffect) String() string {
	switch e {
	case NoChanges:
		return "no_changes"
	case ComponentAdded:
		return "component_added"
	case ComponentModified:
		return "component_modified"
	case ComponentDeleted:
		return "component_deleted"
	case EntityDeleted:
		return "entity_deleted"
	default:
		return fmt.Sprintf("effect(%d)", uint8(e))
	}
}

// StateReconciliationResult explains why the state did or did not change.
type StateReconciliationResult uint8

const (
	StateNoChanges StateReconciliationResult = iota
	StateUpdatedTimestamp
	StateUpdatedData
	StateOutdatedTimestamp
	StateOutdatedData
	StateAppendedData
	StateEntityWasDeleted
	StateEntityDeleted
)

func (r StateReconciliationResult) String() string {
	switch r {
	case StateNoChanges:
		return "no_changes"
	case StateUpdatedTimestamp:
		return "updated_timestamp"
	case StateUpdatedData:
		return "updated_data"
	case StateOutdatedTimestamp:
		return "outdated_timestamp"
	case StateOutdatedData:
		return "outdated_data"
	case StateAppendedData:
		return "appended_data"
	case StateEntityWasDeleted:
		return "entity_was_deleted"
	case StateEntityDeleted:
		return "entity_deleted"
	default:
		return fmt.Sprintf("state(%d)", uint8(r))
	}
}

type ReconciliationResult struct {
	State  StateReconciliationResult
	Effect ReconciliationEffect
}

// Conflict reports whether the message lost against the stored state.
func (r ReconciliationResult) Conflict() bool {
	return r.State == StateOutdatedTimestamp || r.State == StateOutdatedData
}
