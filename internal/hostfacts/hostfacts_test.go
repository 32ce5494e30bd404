package hostfacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGather_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Gather(ctx)
	require.Error(t, err)
}

func TestGather_ReturnsSnapshot(t *testing.T) {
	facts, err := Gather(context.Background())
	require.NoError(t, err)
	require.NotNil(t, facts)
}

func TestReadOSRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "os-release")
	content := "ID=ubuntu\nVERSION_ID=\"24.04\"\nPRETTY_NAME=\"Ubuntu 24.04 LTS\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	id, version := readOSRelease(path)
	require.Equal(t, "ubuntu", id)
	require.Equal(t, "24.04", version)
}

func TestReadOSRelease_MissingFile(t *testing.T) {
	id, version := readOSRelease(filepath.Join(t.TempDir(), "nope"))
	require.Empty(t, id)
	require.Empty(t, version)
}

func TestSupports(t *testing.T) {
	facts := &Facts{PackageManager: "apt", HasSystemd: true}
	require.True(t, facts.Supports("apt"))
	require.True(t, facts.Supports("systemd"))
	require.False(t, facts.Supports("chocolatey"))

	var nilFacts *Facts
	require.False(t, nilFacts.Supports("apt"))
}
