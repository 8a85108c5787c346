package parallel_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/internal/parallel"
)

func TestMap(t *testing.T) {
	t.Parallel()

	f := func(ctx context.Context, d time.Duration) (int, error) {
		select {
		case <-time.After(d):
			return int(d / time.Second), nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	input := []time.Duration{10 * time.Second, 2 * time.Second, 5 * time.Second, 1 * time.Second}
	expected := []int{10, 2, 5, 1}

	type given struct {
		limit   int
		timeout time.Duration
	}
	type then struct {
		elapsed time.Duration
		err     error
	}

	var testCases = []struct {
		scenario string
		given    given
		then     then
	}{
		{"limit 1", given{1, 0}, then{18 * time.Second, nil}},
		{"limit 2", given{2, 0}, then{10 * time.Second, nil}},
		{"limit 10", given{10, 0}, then{10 * time.Second, nil}},
		{"limit 1, cancel 1s", given{1, 1 * time.Second}, then{1 * time.Second, context.DeadlineExceeded}},
		{"limit 10, cancel 1s", given{10, 1 * time.Second}, then{1 * time.Second, context.DeadlineExceeded}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				ctx := t.Context()
				if tt.given.timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, tt.given.timeout)
					defer cancel()
				}
				start := time.Now()
				got, err := parallel.Map(ctx, tt.given.limit, input, f)
				require.Equal(t, tt.then.elapsed, time.Since(start))
				if tt.then.err != nil {
					require.ErrorIs(t, err, tt.then.err)
					return
				}
				require.NoError(t, err)
				require.Equal(t, expected, got)
			})
		})
	}
}

func TestMap_Error(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	_, err := parallel.Map(t.Context(), 2, []int{1, 2, 3}, func(_ context.Context, i int) (int, error) {
		if i == 2 {
			return 0, boom
		}
		return i, nil
	})
	require.ErrorIs(t, err, boom)
}
