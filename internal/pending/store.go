// Package pending holds staged registrations between the register and
// confirm steps. The store is in-process and best-effort: a restart loses
// staged entries and the user simply registers again. Nothing here is a
// source of durable truth.
package pending

import (
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nstepanov/usermgmt/internal/models"
)

var (
	// ErrNotFound — the handle was never staged or its TTL elapsed.
	ErrNotFound = errors.New("pending registration not found")

	// ErrCodeMismatch — the confirmation code does not match. The entry
	// stays staged so the user may retry within the TTL.
	ErrCodeMismatch = errors.New("confirmation code mismatch")

	// ErrTTLTooLong — requested TTL exceeds the configured cap.
	ErrTTLTooLong = errors.New("ttl exceeds the allowed maximum")
)

const (
	// DefaultMaxTTL caps a single entry lifetime to bound memory held by
	// abandoned registrations.
	DefaultMaxTTL = 24 * time.Hour

	cleanupInterval = time.Minute
)

// Store is a TTL-keyed staging area for unconfirmed registrations.
type Store interface {
	// Stage inserts or overwrites the record under handle. The record
	// expires after ttl and becomes unreadable. Returns ErrTTLTooLong
	// when ttl exceeds the cap.
	Stage(handle string, reg models.PendingRegistration, ttl time.Duration) error

	// Fetch returns the staged record or ErrNotFound. Reading does not
	// extend the TTL.
	Fetch(handle string) (models.PendingRegistration, error)

	// Invalidate drops the entry immediately.
	Invalidate(handle string)

	// Consume atomically checks the code and removes the entry on match.
	// On mismatch the entry is left staged and ErrCodeMismatch returned.
	Consume(handle string, code string) (models.PendingRegistration, error)
}

type store struct {
	maxTTL time.Duration

	// go-cache handles per-entry expiry and the eviction janitor; the
	// mutex only serializes check-and-delete in Consume so the same code
	// cannot be redeemed twice.
	mu    sync.Mutex
	cache *gocache.Cache
}

func NewStore(maxTTL time.Duration) Store {
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}

	return &store{
		maxTTL: maxTTL,
		cache:  gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (s *store) Stage(handle string, reg models.PendingRegistration, ttl time.Duration) error {
	if ttl > s.maxTTL {
		return ErrTTLTooLong
	}

	s.cache.Set(handle, reg, ttl)
	return nil
}

func (s *store) Fetch(handle string) (models.PendingRegistration, error) {
	value, ok := s.cache.Get(handle)
	if !ok {
		return models.PendingRegistration{}, ErrNotFound
	}

	reg, ok := value.(models.PendingRegistration)
	if !ok {
		return models.PendingRegistration{}, ErrNotFound
	}

	return reg, nil
}

func (s *store) Invalidate(handle string) {
	s.cache.Delete(handle)
}

func (s *store) Consume(handle string, code string) (models.PendingRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.Fetch(handle)
	if err != nil {
		return models.PendingRegistration{}, err
	}

	if reg.ConfirmationCode != code {
		return models.PendingRegistration{}, ErrCodeMismatch
	}

	s.cache.Delete(handle)
	return reg, nil
}
