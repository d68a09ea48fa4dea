package application

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/RomanRII/NetExec/internal/display"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewContainerRegistersEverything(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "modules", "uptime.yaml"),
		[]byte("name: uptime\nprotocols: [ssh]\nopsec_safe: true\nmultiple_hosts: true\ncommand: uptime\n"), 0o600))

	c, err := NewContainer(dir, display.NewConsole(&bytes.Buffer{}), zap.NewNop().Sugar(), nil)
	require.NoError(t, err)

	for _, name := range []string{"ssh", "ftp"} {
		_, err := c.Protocols.Resolve(name)
		assert.NoError(t, err, name)
	}
	for _, name := range []string{"hostinfo", "beacon", "ftp_tree", "uptime"} {
		_, ok := c.Modules.Lookup(name)
		assert.True(t, ok, name)
	}
	assert.NotNil(t, c.Orchestrator)
}
