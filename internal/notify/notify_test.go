package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand(t *testing.T) {
	cmd := command("linux", "alice stopped", "token expired")
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"notify-send", "--app-name=wpaint", "alice stopped", "token expired"}, cmd.Args)

	cmd = command("darwin", "t", `say "hi"`)
	require.NotNil(t, cmd)
	assert.Equal(t, "osascript", cmd.Args[0])
	assert.Contains(t, cmd.Args[2], `display notification "say \"hi\"" with title "t"`)

	cmd = command("windows", "it's", "b")
	require.NotNil(t, cmd)
	assert.Contains(t, cmd.Args[len(cmd.Args)-1], "CreateTextNode('it''s')")

	assert.Nil(t, command("plan9", "t", "b"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a b", sanitize("a\nb"))
	assert.Equal(t, "cdir", sanitize(`c\dir`))

	long := sanitize(strings.Repeat("x", 300))
	assert.Len(t, long, 259)
	assert.True(t, strings.HasSuffix(long, "..."))
}
