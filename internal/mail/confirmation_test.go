package mail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_ConfirmationMessage(t *testing.T) {
	t.Parallel()

	t.Run("carries name, code and lifetime", func(t *testing.T) {
		subject, body := ConfirmationMessage("Jamie", "Doe", "123456", 15*time.Minute)

		assert.Equal(t, "Email Confirmation", subject)
		assert.Contains(t, body, "Dear User Jamie Doe")
		assert.Contains(t, body, "<b>123456</b>")
		assert.Contains(t, body, "valid for 15 minutes")
	})

	t.Run("escapes html in names", func(t *testing.T) {
		_, body := ConfirmationMessage("<script>", "Doe", "123456", time.Minute)

		assert.NotContains(t, body, "<script>")
		assert.Contains(t, body, "&lt;script&gt;")
	})
}
