package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayersOverride(t *testing.T) {
	e := New().Set("A", "1").SetPairs([]string{"A=2", "B=x", "=skip", "noequals"})
	assert.Equal(t, []string{"A=2", "B=x"}, e.Environ())
	assert.Equal(t, 2, e.Len())
}

func TestExpand(t *testing.T) {
	e := New().SetPairs([]string{"HOME=/srv", "CFG=${HOME}/cfg", "X=${MISSING}-y", "OPEN=${HOME"})
	assert.Equal(t, []string{"CFG=/srv/cfg", "HOME=/srv", "OPEN=${HOME", "X=-y"}, e.Environ())
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "server.env")
	body := "# comment\nexport A=1\nB = \"two words\"\n\nC='q'\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	e := New()
	require.NoError(t, e.LoadFile(p))
	assert.Equal(t, []string{"A=1", "B=two words", "C=q"}, e.Environ())
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, New().LoadFile(filepath.Join(dir, "missing.env")))

	p := filepath.Join(dir, "bad.env")
	require.NoError(t, os.WriteFile(p, []byte("A=1\njunk\n"), 0o600))
	assert.ErrorContains(t, New().LoadFile(p), ":2:")
}

func TestFromOS(t *testing.T) {
	t.Setenv("CRAFTVISOR_ENV_TEST", "yes")
	assert.Contains(t, New().FromOS().Environ(), "CRAFTVISOR_ENV_TEST=yes")
}
