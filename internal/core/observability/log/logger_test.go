package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"off":     LevelNone,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestLogger_SetLevel(t *testing.T) {
	l, err := NewWithConfig(Config{Level: "warn", Encoding: "console"})
	require.NoError(t, err)
	require.Equal(t, LevelWarn, l.GetLevel())
	require.False(t, l.checkLevel(LevelInfo))

	l.SetLevel(LevelDebug)
	require.Equal(t, LevelDebug, l.GetLevel())
	require.True(t, l.checkLevel(LevelInfo))

	child := l.With(String("scene", "a"), Int("n", 1), Error(errors.New("boom")))
	require.Equal(t, LevelDebug, child.GetLevel())
}

func TestLogger_BadEncoding(t *testing.T) {
	_, err := NewWithConfig(Config{Encoding: "xml"})
	require.Error(t, err)
}

func TestNewNop_DropsEverything(t *testing.T) {
	l := NewNop()
	require.Equal(t, LevelNone, l.GetLevel())
	require.False(t, l.checkLevel(LevelFatal))
	l.Error("ignored", Uint32("x", 1))
}
