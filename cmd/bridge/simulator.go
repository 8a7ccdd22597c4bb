package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/zeusync/ecsbridge/internal/core/bridge"
	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/outgoing"
)

const (
	sceneEntities   = 8
	firstSceneOwned = 512
	firstHostOwned  = 768
	hostEntities    = 4
)

// simulator plays the scene runtime side of one scene. It keeps its own
// replica of the protocol state and mutates a few entities every tick; the
// host world side writes pointer events to entities it owns.
type simulator struct {
	scene    *bridge.Scene
	registry *components.Registry
	replica  *crdt.Protocol
	rnd      *rand.Rand
	versions [sceneEntities]uint16
	tick     int64
}

func newSimulator(scene *bridge.Scene, registry *components.Registry, seed uint64) *simulator {
	return &simulator{
		scene:    scene,
		registry: registry,
		replica:  crdt.NewProtocol(crdt.WithComponents(registry)),
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// step sends one batch to the scene, feeds back what the host produced and
// lets the host write a pointer event.
func (s *simulator) step() error {
	s.tick++

	batch, err := s.batch()
	if err != nil {
		return err
	}
	out, err := s.scene.SendToRenderer(batch)
	if err != nil {
		return err
	}
	if err = s.receive(out); err != nil {
		return err
	}

	entity := crdt.NewEntity(uint16(firstHostOwned+s.rnd.IntN(hostEntities)), 0)
	_, err = s.scene.Writer().AppendComponent(entity, components.PointerEventsID, components.PointerEvent{Tick: s.tick})
	return err
}

// flush delivers the pending host messages to the replica.
func (s *simulator) flush() error {
	out, err := s.scene.SendToRenderer(nil)
	if err != nil {
		return err
	}
	return s.receive(out)
}

func (s *simulator) converged() bool {
	return s.replica.StateDigest() == s.scene.StateDigest()
}

func (s *simulator) batch() ([]crdt.Message, error) {
	size := 1 + s.rnd.IntN(4)
	batch := make([]crdt.Message, 0, size)

	for i := 0; i < size; i++ {
		number := s.rnd.IntN(sceneEntities)
		entity := crdt.NewEntity(uint16(firstSceneOwned+number), s.versions[number])

		var processed crdt.ProcessedMessage
		switch roll := s.rnd.IntN(20); {
		case roll == 0:
			processed = s.replica.CreateDeleteEntityMessage(entity)
			s.versions[number]++
		case roll < 3:
			processed = s.replica.CreateDeleteMessage(entity, components.NameID)
		case roll < 6:
			data, err := s.encode(components.NameID, components.Name{Value: fmt.Sprintf("entity-%d-%d", number, s.tick)})
			if err != nil {
				return nil, err
			}
			processed = s.replica.CreatePutMessage(entity, components.NameID, data)
		default:
			tr := components.IdentityTransform()
			tr.Position = components.Vector3{X: float32(s.tick), Y: float32(number)}
			data, err := s.encode(components.TransformID, tr)
			if err != nil {
				return nil, err
			}
			processed = s.replica.CreatePutMessage(entity, components.TransformID, data)
		}

		if _, err := s.replica.ProcessMessage(processed.Message); err != nil {
			return nil, err
		}
		batch = append(batch, processed.Message)
	}
	return batch, nil
}

func (s *simulator) receive(envelopes []outgoing.Envelope) error {
	for _, env := range envelopes {
		if _, err := s.replica.ProcessMessage(env.Message()); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulator) encode(component crdt.ComponentID, model any) ([]byte, error) {
	return s.registry.MustGet(component).Serializer.Serialize(model)
}
