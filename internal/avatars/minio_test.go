package avatars

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The validation steps run before any bucket call, so a bare store is
// enough to exercise them.
func Test_Upload_Validation(t *testing.T) {
	t.Parallel()

	s := &minioStore{cfg: Config{Bucket: "avatars", MaxSizeBytes: 1 << 20}}

	t.Run("rejects disallowed content type", func(t *testing.T) {
		_, err := s.Upload(t.Context(), "payload.exe", "application/octet-stream", 10, strings.NewReader("x"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})

	t.Run("missing content type falls back to the filename extension", func(t *testing.T) {
		// The ".PNG" extension resolves the type, so the size check is the
		// one that fires
		_, err := s.Upload(t.Context(), "me.PNG", "", 0, strings.NewReader(""))

		require.Error(t, err)
		assert.NotContains(t, err.Error(), "not allowed")
		assert.Contains(t, err.Error(), "size")
	})

	t.Run("unknown extension with no content type is rejected", func(t *testing.T) {
		_, err := s.Upload(t.Context(), "notes.txt", "", 10, strings.NewReader("x"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})

	t.Run("rejects oversized upload", func(t *testing.T) {
		_, err := s.Upload(t.Context(), "me.png", "image/png", 2<<20, strings.NewReader("x"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of bounds")
	})
}
