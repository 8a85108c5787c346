package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/internal/model"
	"github.com/tracksync/tracksync/internal/service"
)

type fakeBulk struct {
	calls  atomic.Int32
	active atomic.Bool
}

func (f *fakeBulk) StartAll(context.Context) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

func (f *fakeBulk) AnyActive() bool {
	return f.active.Load()
}

type memSettings struct {
	mx sync.Mutex
	s  model.Settings
}

func (m *memSettings) Settings(context.Context) (model.Settings, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.s, nil
}

func (m *memSettings) set(enabled bool, minutes int) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.s.AutoSyncEnabled = enabled
	m.s.AutoSyncIntervalMinutes = minutes
}

func newTrigger(t *testing.T, bulk service.BulkStarter, settings service.SettingsStore) *service.Trigger {
	t.Helper()
	tr, err := service.NewTrigger(bulk, settings)
	require.NoError(t, err)
	tr.WithUnit(20 * time.Millisecond)
	t.Cleanup(func() {
		require.NoError(t, tr.Close())
	})
	return tr
}

func TestTrigger(t *testing.T) {
	t.Parallel()
	bulk := &fakeBulk{}
	settings := &memSettings{}
	settings.set(true, 1)
	tr := newTrigger(t, bulk, settings)

	require.NoError(t, tr.Start(t.Context()))
	_, ok := tr.NextRun()
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return bulk.calls.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	// disabling in the store unschedules on the next tick
	settings.set(false, 1)
	require.Eventually(t, func() bool {
		_, ok := tr.NextRun()
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
	calls := bulk.calls.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, calls, bulk.calls.Load())
}

func TestTrigger_SkipWhenActive(t *testing.T) {
	t.Parallel()
	bulk := &fakeBulk{}
	bulk.active.Store(true)
	settings := &memSettings{}
	settings.set(true, 1)
	tr := newTrigger(t, bulk, settings)

	require.NoError(t, tr.Start(t.Context()))
	time.Sleep(150 * time.Millisecond)
	require.Zero(t, bulk.calls.Load())

	bulk.active.Store(false)
	require.Eventually(t, func() bool {
		return bulk.calls.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTrigger_Update(t *testing.T) {
	t.Parallel()
	bulk := &fakeBulk{}
	settings := &memSettings{}
	settings.set(false, 60)
	tr := newTrigger(t, bulk, settings)

	require.NoError(t, tr.Start(t.Context()))
	_, ok := tr.NextRun()
	require.False(t, ok)

	require.NoError(t, tr.Update(true, 60))
	next, ok := tr.NextRun()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(60*20*time.Millisecond), next, time.Second)

	require.Error(t, tr.Update(true, 0))
	_, ok = tr.NextRun()
	require.False(t, ok)

	require.NoError(t, tr.Update(true, 60))
	tr.Stop()
	_, ok = tr.NextRun()
	require.False(t, ok)
	require.Zero(t, bulk.calls.Load())
}
