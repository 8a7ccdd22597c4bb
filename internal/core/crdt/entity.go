package crdt

import "fmt"

// Entity is the protocol entity id shared by both sides of the bridge.
// The low 16 bits carry the entity number, the high 16 bits the entity version:
// the scene reuses numbers and bumps the version every time it does.
type Entity uint32

// ComponentID discriminates component schemas.
type ComponentID int32

func NewEntity(number, version uint16) Entity {
	return Entity(uint32(version)<<16 | uint32(number))
}

func (e Entity) Number() uint16 {
	return uint16(e & 0xFFFF)
}

func (e Entity) Version() uint16 {
	return uint16(e >> 16)
}

func (e Entity) String() string {
	return fmt.Sprintf("%d:%d", e.Number(), e.Version())
}
