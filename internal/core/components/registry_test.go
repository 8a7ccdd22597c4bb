package components

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeusync/ecsbridge/internal/core/crdt"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))
	require.Equal(t, 3, r.Len())
	require.Equal(t, []crdt.ComponentID{TransformID, NameID, PointerEventsID}, r.IDs())

	t.Run("duplicate id is a setup error", func(t *testing.T) {
		err := Register[Name](r, NameID, "other_name", JSONCodec[Name]{})
		require.ErrorIs(t, err, ErrAlreadyRegistered)
		require.Equal(t, "name", r.MustGet(NameID).Name)
	})

	t.Run("nil serializer", func(t *testing.T) {
		require.ErrorIs(t, r.Register(99, "nil", nil), ErrInvalidSerializer)
	})

	t.Run("sealed registry rejects registrations", func(t *testing.T) {
		r.Seal()
		require.True(t, r.Sealed())
		err := r.Register(50, "raw", NewSerializer[[]byte](RawCodec{}))
		require.ErrorIs(t, err, ErrRegistrySealed)
		require.True(t, r.Contains(TransformID))
		require.False(t, r.Contains(50))
	})

	t.Run("unknown ids", func(t *testing.T) {
		_, ok := r.Get(404)
		require.False(t, ok)
		_, err := r.Lookup(404)
		require.ErrorIs(t, err, ErrNotRegistered)
		require.Panics(t, func() { r.MustGet(404) })
	})
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(1, "raw", NewSerializer[[]byte](RawCodec{}))
	require.Panics(t, func() {
		r.MustRegister(1, "raw_again", NewSerializer[[]byte](RawCodec{}))
	})
}

func TestCodecs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r))

	t.Run("binary transform", func(t *testing.T) {
		tr := IdentityTransform()
		tr.Position = Vector3{X: 1, Y: 2, Z: 3}

		data, err := r.MustGet(TransformID).Serializer.Serialize(tr)
		require.NoError(t, err)
		require.Len(t, data, 40)

		got, err := Decode[Transform](r, TransformID, data)
		require.NoError(t, err)
		require.Equal(t, tr, got)

		_, err = Decode[Transform](r, TransformID, data[:10])
		require.Error(t, err)
	})

	t.Run("pointer models are accepted", func(t *testing.T) {
		data, err := r.MustGet(NameID).Serializer.Serialize(&Name{Value: "door"})
		require.NoError(t, err)
		require.JSONEq(t, `{"value":"door"}`, string(data))
	})

	t.Run("wrong model type", func(t *testing.T) {
		_, err := r.MustGet(NameID).Serializer.Serialize(Transform{})
		require.ErrorIs(t, err, ErrInvalidSerializer)

		_, err = Decode[Name](r, TransformID, make([]byte, 40))
		require.ErrorIs(t, err, ErrInvalidSerializer)
	})

	t.Run("raw", func(t *testing.T) {
		s := NewSerializer[[]byte](RawCodec{})
		in := []byte{1, 2, 3}
		data, err := s.Serialize(in)
		require.NoError(t, err)
		in[0] = 9
		require.Equal(t, []byte{1, 2, 3}, data)
	})
}
