package concurrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcurrent(t *testing.T) {
	var sum atomic.Int64
	err := Concurrent(context.Background(), Range(100), 8, func(_ context.Context, i int) error {
		sum.Add(int64(i))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(4950), sum.Load())
}

func TestConcurrent_FirstErrorCancels(t *testing.T) {
	boom := errors.New("boom")
	err := Concurrent(context.Background(), Range(10), 1, func(ctx context.Context, i int) error {
		if i == 3 {
			return boom
		}
		return ctx.Err()
	})
	require.ErrorIs(t, err, boom)
}

func TestParallelMap(t *testing.T) {
	out, err := ParallelMap(context.Background(), []string{"a", "bb", "ccc"}, 0, func(_ context.Context, s string) (int, error) {
		return len(s), nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, out)

	_, err = ParallelMap(context.Background(), Range(4), 2, func(_ context.Context, i int) (int, error) {
		if i == 2 {
			return 0, errors.New("odd")
		}
		return i, nil
	})
	require.Error(t, err)
}
