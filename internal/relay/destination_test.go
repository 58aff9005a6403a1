package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	t.Run("default port", func(t *testing.T) {
		d, err := ParseDestination("irc://irc.example.net/dev")
		require.NoError(t, err)
		assert.Equal(t, "irc.example.net", d.Host)
		assert.Equal(t, DefaultPort, d.Port)
		assert.Equal(t, "dev", d.Channel)
		assert.Equal(t, "irc://irc.example.net/dev", d.URL)
	})

	t.Run("explicit port", func(t *testing.T) {
		d, err := ParseDestination("irc://irc.example.net:6697/dev")
		require.NoError(t, err)
		assert.Equal(t, 6697, d.Port)
	})

	t.Run("missing host", func(t *testing.T) {
		_, err := ParseDestination("irc:///dev")
		assert.Error(t, err)
	})

	t.Run("missing channel path", func(t *testing.T) {
		_, err := ParseDestination("irc://irc.example.net")
		assert.Error(t, err)
	})

	t.Run("invalid port", func(t *testing.T) {
		_, err := ParseDestination("irc://irc.example.net:notaport/dev")
		assert.Error(t, err)
	})

	t.Run("two channels same server distinct destinations", func(t *testing.T) {
		a, err := ParseDestination("irc://irc.example.net/a")
		require.NoError(t, err)
		b, err := ParseDestination("irc://irc.example.net/b")
		require.NoError(t, err)
		assert.Equal(t, a.Host, b.Host)
		assert.Equal(t, a.Port, b.Port)
		assert.NotEqual(t, a.Channel, b.Channel)
	})
}
