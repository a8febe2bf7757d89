package pending

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepanov/usermgmt/internal/models"
)

func testReg(code string) models.PendingRegistration {
	now := time.Now().UTC()
	return models.PendingRegistration{
		Email:            "staged@example.com",
		Username:         "staged",
		Password:         "plaintext-until-confirm",
		Roles:            []string{"user"},
		ConfirmationCode: code,
		CreatedAt:        now,
		ExpiresAt:        now.Add(15 * time.Minute),
	}
}

func Test_Store(t *testing.T) {
	t.Parallel()

	t.Run("stage and fetch", func(t *testing.T) {
		s := NewStore(0)
		reg := testReg("123456")

		require.NoError(t, s.Stage("handle-1", reg, 15*time.Minute))

		got, err := s.Fetch("handle-1")
		require.NoError(t, err)
		assert.Equal(t, reg, got)
	})

	t.Run("fetch unknown handle", func(t *testing.T) {
		s := NewStore(0)

		_, err := s.Fetch("never-staged")

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stage overwrites previous entry", func(t *testing.T) {
		s := NewStore(0)
		require.NoError(t, s.Stage("handle-1", testReg("111111"), 15*time.Minute))
		require.NoError(t, s.Stage("handle-1", testReg("222222"), 15*time.Minute))

		got, err := s.Fetch("handle-1")

		require.NoError(t, err)
		assert.Equal(t, "222222", got.ConfirmationCode)
	})

	t.Run("ttl above cap is rejected", func(t *testing.T) {
		s := NewStore(time.Hour)

		err := s.Stage("handle-1", testReg("123456"), 2*time.Hour)

		assert.ErrorIs(t, err, ErrTTLTooLong)
	})

	t.Run("entry expires", func(t *testing.T) {
		s := NewStore(0)
		require.NoError(t, s.Stage("handle-1", testReg("123456"), 10*time.Millisecond))

		time.Sleep(30 * time.Millisecond)

		_, err := s.Fetch("handle-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalidate drops the entry", func(t *testing.T) {
		s := NewStore(0)
		require.NoError(t, s.Stage("handle-1", testReg("123456"), 15*time.Minute))

		s.Invalidate("handle-1")

		_, err := s.Fetch("handle-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("consume removes entry on match", func(t *testing.T) {
		s := NewStore(0)
		require.NoError(t, s.Stage("handle-1", testReg("123456"), 15*time.Minute))

		got, err := s.Consume("handle-1", "123456")
		require.NoError(t, err)
		assert.Equal(t, "staged", got.Username)

		_, err = s.Consume("handle-1", "123456")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("consume keeps entry on mismatch", func(t *testing.T) {
		s := NewStore(0)
		require.NoError(t, s.Stage("handle-1", testReg("123456"), 15*time.Minute))

		_, err := s.Consume("handle-1", "654321")
		assert.ErrorIs(t, err, ErrCodeMismatch)

		// Entry survives the bad attempt
		_, err = s.Consume("handle-1", "123456")
		assert.NoError(t, err)
	})

	t.Run("concurrent consume succeeds exactly once", func(t *testing.T) {
		s := NewStore(0)
		require.NoError(t, s.Stage("handle-1", testReg("123456"), 15*time.Minute))

		const workers = 16
		var wg sync.WaitGroup
		results := make(chan error, workers)

		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Consume("handle-1", "123456")
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var wins int
		for err := range results {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		}
		assert.Equal(t, 1, wins, "only one concurrent confirm may win")
	})
}
