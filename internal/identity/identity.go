// Package identity manages the durable device and user identifiers that
// anchor every telemetry event to an installation.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tidemark-io/tidemark/internal/kvstore"
)

// Storage keys for the durable identifiers.
const (
	keyDeviceID = "device_id"
	keyUserID   = "user_id"
)

// recoveryMarker replaces the random segment when identifier resolution
// fails in an unrecoverable way. It is exactly eight lowercase letters so
// recovery identifiers still pass structural validation.
const recoveryMarker = "recovery"

const randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Identifier formats:
//
//	device_<13-digit-epoch-ms>_<8-char-lowercase-alnum>_<platform>
//	user_<13-digit-epoch-ms>_<8-char-lowercase-alnum>
//
// Example: device_1741944413589_k3n9x0ab_linux
var (
	deviceIDPattern = regexp.MustCompile(`^device_\d{13}_[a-z0-9]{8}_[a-z0-9]+$`)
	userIDPattern   = regexp.MustCompile(`^user_\d{13}_[a-z0-9]{8}$`)
)

type cached struct {
	id        string
	persisted bool
}

// Store resolves, generates, and persists installation identifiers.
// Resolution never fails: storage problems degrade to process-lifetime
// in-memory identifiers, and persistence is retried on later calls.
type Store struct {
	mu     sync.Mutex
	kv     kvstore.Store
	logger zerolog.Logger

	device cached
	user   cached
}

// NewStore creates an identity store backed by kv.
func NewStore(kv kvstore.Store, logger zerolog.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// DeviceID returns the stable identifier for this installation, generating
// and persisting one on first use. It never fails and never blocks on I/O
// problems; at worst it returns a recovery identifier for this call.
func (s *Store) DeviceID() (id string) {
	defer func() {
		if r := recover(); r != nil {
			id = fmt.Sprintf("device_%d_%s_%s", time.Now().UnixMilli(), recoveryMarker, runtime.GOOS)
			s.logger.Error().Interface("panic", r).Str("device_id", id).
				Msg("Recovered while resolving device id")
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve(&s.device, keyDeviceID, deviceIDPattern, newDeviceID)
}

// UserID returns the identifier for the current user profile. Unlike the
// device identifier it is expected to reset on reinstall. Same failure
// semantics as DeviceID.
func (s *Store) UserID() (id string) {
	defer func() {
		if r := recover(); r != nil {
			id = fmt.Sprintf("user_%d_%s", time.Now().UnixMilli(), recoveryMarker)
			s.logger.Error().Interface("panic", r).Str("user_id", id).
				Msg("Recovered while resolving user id")
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve(&s.user, keyUserID, userIDPattern, newUserID)
}

// ClearDevice removes the device identifier from memory and durable
// storage. The next DeviceID call generates a fresh one.
func (s *Store) ClearDevice() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.device = cached{}
	if err := s.kv.Delete(keyDeviceID); err != nil {
		return fmt.Errorf("failed to clear device id: %w", err)
	}
	return nil
}

// ClearUser removes the user identifier from memory and durable storage.
func (s *Store) ClearUser() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = cached{}
	if err := s.kv.Delete(keyUserID); err != nil {
		return fmt.Errorf("failed to clear user id: %w", err)
	}
	return nil
}

// resolve implements the cache, storage, validate, generate chain for one
// identifier slot. Callers hold s.mu.
func (s *Store) resolve(slot *cached, key string, pattern *regexp.Regexp, generate func(zerolog.Logger) string) string {
	if slot.id != "" {
		s.ensurePersisted(slot, key)
		return slot.id
	}

	stored, err := s.kv.Get(key)
	switch {
	case err == nil && pattern.MatchString(stored):
		*slot = cached{id: stored, persisted: true}
		return stored
	case err == nil:
		s.logger.Warn().Str("key", key).Str("stored", stored).
			Msg("Stored identifier is malformed, regenerating")
	case !errors.Is(err, kvstore.ErrNotFound):
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to read identifier")
	}

	id := generate(s.logger)
	*slot = cached{id: id}
	s.ensurePersisted(slot, key)
	s.logger.Debug().Str("key", key).Str("id", id).Msg("Generated identifier")
	return id
}

// ensurePersisted writes the cached identifier if an earlier write failed.
// Failures are logged and retried on the next call.
func (s *Store) ensurePersisted(slot *cached, key string) {
	if slot.persisted || slot.id == "" {
		return
	}

	if err := s.kv.Set(key, slot.id); err != nil {
		s.logger.Warn().Err(err).Str("key", key).
			Msg("Failed to persist identifier, will retry")
		return
	}
	slot.persisted = true
}

func newDeviceID(logger zerolog.Logger) string {
	return fmt.Sprintf("device_%d_%s_%s", time.Now().UnixMilli(), randomSegment(logger), runtime.GOOS)
}

func newUserID(logger zerolog.Logger) string {
	return fmt.Sprintf("user_%d_%s", time.Now().UnixMilli(), randomSegment(logger))
}

// randomSegment returns eight lowercase alphanumeric characters. Collision
// probability at installation scale is negligible (36^8 values).
func randomSegment(logger zerolog.Logger) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		logger.Error().Err(err).Msg("Failed to read random bytes for identifier")
		return recoveryMarker
	}

	for i, b := range buf {
		buf[i] = randomAlphabet[int(b)%len(randomAlphabet)]
	}
	return string(buf)
}
