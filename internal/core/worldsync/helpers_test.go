package worldsync

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/ecsbridge/internal/core/components"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
	"github.com/zeusync/ecsbridge/internal/core/hostworld"
)

const (
	positionID crdt.ComponentID = 1
	labelID    crdt.ComponentID = 2
)

type position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func newRegistry(t *testing.T) *components.Registry {
	t.Helper()
	r := components.NewRegistry()
	require.NoError(t, components.Register[position](r, positionID, "position", components.JSONCodec[position]{}))
	require.NoError(t, components.Register[components.Name](r, labelID, "label", components.JSONCodec[components.Name]{}))
	r.Seal()
	return r
}

func payload(t *testing.T, model any) []byte {
	t.Helper()
	data, err := json.Marshal(model)
	require.NoError(t, err)
	return data
}

var errHostRejected = errors.New("host rejected component")

// rejectingWorld fails every Set of one component kind.
type rejectingWorld struct {
	*hostworld.Store
	reject crdt.ComponentID
}

func (w rejectingWorld) Set(h hostworld.Handle, component crdt.ComponentID, model any) error {
	if component == w.reject {
		return errHostRejected
	}
	return w.Store.Set(h, component, model)
}
