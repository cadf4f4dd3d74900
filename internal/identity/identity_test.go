package identity

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/kvstore"
)

// flakyStore fails every operation until healed.
type flakyStore struct {
	inner  kvstore.Store
	broken bool
}

func (f *flakyStore) Get(key string) (string, error) {
	if f.broken {
		return "", errors.New("storage offline")
	}
	return f.inner.Get(key)
}

func (f *flakyStore) Set(key, value string) error {
	if f.broken {
		return errors.New("storage offline")
	}
	return f.inner.Set(key, value)
}

func (f *flakyStore) Delete(key string) error {
	if f.broken {
		return errors.New("storage offline")
	}
	return f.inner.Delete(key)
}

// panicStore simulates a backend that blows up instead of returning errors.
type panicStore struct{}

func (panicStore) Get(string) (string, error) { panic("broken backend") }
func (panicStore) Set(string, string) error   { panic("broken backend") }
func (panicStore) Delete(string) error        { panic("broken backend") }

func TestStore_DeviceIDFormat(t *testing.T) {
	store := NewStore(kvstore.NewMemStore(), zerolog.Nop())

	id := store.DeviceID()
	assert.Regexp(t, `^device_\d{13}_[a-z0-9]{8}_[a-z0-9]+$`, id)
	assert.Regexp(t, fmt.Sprintf("_%s$", runtime.GOOS), id)
}

func TestStore_UserIDFormat(t *testing.T) {
	store := NewStore(kvstore.NewMemStore(), zerolog.Nop())

	id := store.UserID()
	assert.Regexp(t, `^user_\d{13}_[a-z0-9]{8}$`, id)
}

func TestStore_StableWithinProcess(t *testing.T) {
	store := NewStore(kvstore.NewMemStore(), zerolog.Nop())

	assert.Equal(t, store.DeviceID(), store.DeviceID())
	assert.Equal(t, store.UserID(), store.UserID())
}

func TestStore_SurvivesRestart(t *testing.T) {
	kv := kvstore.NewMemStore()

	first := NewStore(kv, zerolog.Nop())
	deviceID := first.DeviceID()
	userID := first.UserID()

	// A fresh store over the same backend simulates a process restart.
	second := NewStore(kv, zerolog.Nop())
	assert.Equal(t, deviceID, second.DeviceID())
	assert.Equal(t, userID, second.UserID())
}

func TestStore_RegeneratesMalformedStoredID(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{"garbage", "not-an-identifier"},
		{"wrong prefix", "session_1741944413589_k3n9x0ab_linux"},
		{"short timestamp", "device_12345_k3n9x0ab_linux"},
		{"short random segment", "device_1741944413589_k3n_linux"},
		{"uppercase random segment", "device_1741944413589_K3N9X0AB_linux"},
		{"missing platform", "device_1741944413589_k3n9x0ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := kvstore.NewMemStore()
			require.NoError(t, kv.Set("device_id", tt.stored))

			store := NewStore(kv, zerolog.Nop())
			id := store.DeviceID()

			assert.NotEqual(t, tt.stored, id)
			assert.Regexp(t, `^device_\d{13}_[a-z0-9]{8}_[a-z0-9]+$`, id)

			// The regenerated value replaces the bad one in storage.
			persisted, err := kv.Get("device_id")
			require.NoError(t, err)
			assert.Equal(t, id, persisted)
		})
	}
}

func TestStore_StorageFailureFallsBackToMemory(t *testing.T) {
	flaky := &flakyStore{inner: kvstore.NewMemStore(), broken: true}
	store := NewStore(flaky, zerolog.Nop())

	id := store.DeviceID()
	assert.Regexp(t, `^device_\d{13}_[a-z0-9]{8}_[a-z0-9]+$`, id)

	// Identifier stays stable even though nothing was persisted.
	assert.Equal(t, id, store.DeviceID())
	_, err := flaky.inner.Get("device_id")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	// Once storage recovers, the next call persists the cached value.
	flaky.broken = false
	assert.Equal(t, id, store.DeviceID())

	persisted, err := flaky.inner.Get("device_id")
	require.NoError(t, err)
	assert.Equal(t, id, persisted)
}

func TestStore_PanicYieldsRecoveryID(t *testing.T) {
	store := NewStore(panicStore{}, zerolog.Nop())

	deviceID := store.DeviceID()
	assert.Regexp(t, `^device_\d{13}_recovery_[a-z0-9]+$`, deviceID)

	userID := store.UserID()
	assert.Regexp(t, `^user_\d{13}_recovery$`, userID)
}

func TestStore_ClearDevice(t *testing.T) {
	kv := kvstore.NewMemStore()
	store := NewStore(kv, zerolog.Nop())

	first := store.DeviceID()
	require.NoError(t, store.ClearDevice())

	_, err := kv.Get("device_id")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	second := store.DeviceID()
	assert.NotEqual(t, first, second)
}

func TestStore_ClearUserKeepsDevice(t *testing.T) {
	store := NewStore(kvstore.NewMemStore(), zerolog.Nop())

	deviceID := store.DeviceID()
	userID := store.UserID()

	require.NoError(t, store.ClearUser())

	assert.Equal(t, deviceID, store.DeviceID())
	assert.NotEqual(t, userID, store.UserID())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(kvstore.NewMemStore(), zerolog.Nop())

	ids := make([]string, 16)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = store.DeviceID()
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
}
