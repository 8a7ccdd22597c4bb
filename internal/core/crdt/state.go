package crdt

import (
	"bytes"
	"cmp"
	"slices"
)

// EntityComponentData is the stored value of one (entity, component) pair.
// A deleted component keeps its entry as a tombstone so its timestamp never regresses.
type EntityComponentData struct {
	Timestamp int32
	Data      []byte
	Deleted   bool
}

// compareData orders two values written under the same timestamp.
// Payload bytes decide first; on equal bytes a live value beats a tombstone.
func compareData(a, b EntityComponentData) int {
	if c := bytes.Compare(a.Data, b.Data); c != 0 {
		return c
	}
	switch {
	case a.Deleted == b.Deleted:
		return 0
	case a.Deleted:
		return -1
	default:
		return 1
	}
}

func compareAppended(a, b EntityComponentData) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return bytes.Compare(a.Data, b.Data)
}

// state is the reconciliation state owned by exactly one Protocol.
type state struct {
	// entity number -> highest deleted entity version
	deletedEntities map[uint16]uint16

	// component -> entity -> last written value (live or tombstone)
	lww map[ComponentID]map[Entity]EntityComponentData

	// component -> entity -> appended values sorted by (timestamp, data)
	appended map[ComponentID]map[Entity][]EntityComponentData

	// number of messages needed to describe the state
	messagesCount int
}

func newState() state {
	return state{
		deletedEntities: make(map[uint16]uint16),
		lww:             make(map[ComponentID]map[Entity]EntityComponentData),
		appended:        make(map[ComponentID]map[Entity][]EntityComponentData),
	}
}

func (s *state) lwwEntry(entity Entity, component ComponentID) (EntityComponentData, bool) {
	inner, ok := s.lww[component]
	if !ok {
		return EntityComponentData{}, false
	}
	data, ok := inner[entity]
	return data, ok
}

func (s *state) storeLWW(entity Entity, component ComponentID, data EntityComponentData, existed bool) {
	inner, ok := s.lww[component]
	if !ok {
		inner = make(map[Entity]EntityComponentData)
		s.lww[component] = inner
	}
	if !existed {
		s.messagesCount++
	}
	inner[entity] = data
}

func (s *state) lastAppended(entity Entity, component ComponentID) (EntityComponentData, bool) {
	list := s.appended[component][entity]
	if len(list) == 0 {
		return EntityComponentData{}, false
	}
	return list[len(list)-1], true
}

// dropEntity removes every component of the entity from the state.
func (s *state) dropEntity(entity Entity) {
	for _, inner := range s.lww {
		if _, ok := inner[entity]; ok {
			delete(inner, entity)
			s.messagesCount--
		}
	}
	for _, inner := range s.appended {
		if list, ok := inner[entity]; ok {
			s.messagesCount -= len(list)
			delete(inner, entity)
		}
	}
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// messages rebuilds the minimal message set describing the state.
// The order is deterministic: deleted entities, lww values, appended values,
// each sorted by component and entity.
func (s *state) messages() []ProcessedMessage {
	out := make([]ProcessedMessage, 0, s.messagesCount)

	for _, number := range sortedKeys(s.deletedEntities) {
		out = append(out, newProcessedMessage(Message{
			Type:   MessageDeleteEntity,
			Entity: NewEntity(number, s.deletedEntities[number]),
		}))
	}

	for _, component := range sortedKeys(s.lww) {
		inner := s.lww[component]
		for _, entity := range sortedKeys(inner) {
			data := inner[entity]
			msg := Message{
				Type:      MessagePutComponent,
				Entity:    entity,
				Component: component,
				Timestamp: data.Timestamp,
				Data:      data.Data,
			}
			if data.Deleted {
				msg.Type = MessageDeleteComponent
				msg.Data = nil
			}
			out = append(out, newProcessedMessage(msg))
		}
	}

	for _, component := range sortedKeys(s.appended) {
		inner := s.appended[component]
		for _, entity := range sortedKeys(inner) {
			for _, data := range inner[entity] {
				out = append(out, newProcessedMessage(Message{
					Type:      MessageAppendComponent,
					Entity:    entity,
					Component: component,
					Timestamp: data.Timestamp,
					Data:      data.Data,
				}))
			}
		}
	}

	return out
}
