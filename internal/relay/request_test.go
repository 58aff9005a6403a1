package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		req, err := ParseRequest([]byte(`{"channel":"irc://irc.example.net/dev","privmsg":"hello"}`))
		require.NoError(t, err)
		assert.Equal(t, "irc://irc.example.net/dev", req.Channel)
		assert.Equal(t, "hello", req.Privmsg)
	})

	t.Run("ignores extra fields", func(t *testing.T) {
		req, err := ParseRequest([]byte(`{"channel":"irc://x/y","privmsg":"m","extra":"ignored","nested":{"a":1}}`))
		require.NoError(t, err)
		assert.Equal(t, "irc://x/y", req.Channel)
		assert.Equal(t, "m", req.Privmsg)
	})

	t.Run("missing privmsg", func(t *testing.T) {
		_, err := ParseRequest([]byte(`{"channel":"irc://x/y"}`))
		assert.Error(t, err)
	})

	t.Run("missing channel", func(t *testing.T) {
		_, err := ParseRequest([]byte(`{"privmsg":"hello"}`))
		assert.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := ParseRequest([]byte(`not json`))
		assert.Error(t, err)
	})

	t.Run("wrong field type", func(t *testing.T) {
		_, err := ParseRequest([]byte(`{"channel":123,"privmsg":"hello"}`))
		assert.Error(t, err)
	})
}
