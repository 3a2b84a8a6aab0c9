package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "minecraft", c.Server.Name)
	assert.Equal(t, "java", c.Server.JavaPath)
	assert.Equal(t, "server.jar", c.Server.Jar)
	assert.Equal(t, 30*time.Second, c.Server.StopTimeout)
	assert.Equal(t, time.Second, c.Monitor.Interval)
	assert.Equal(t, 3600, c.Monitor.HistorySize)
	assert.Equal(t, 85.0, c.Alerts.CPUPercent)
	assert.Equal(t, uint32(18), c.Alerts.PlayerCount)
	assert.Equal(t, 300*time.Second, c.Alerts.Cooldown)
	assert.True(t, c.API.Enabled)
	assert.Equal(t, "/api", c.API.BasePath)
	assert.Equal(t, filepath.Join(".", "server.properties"), c.Server.PropertiesFile)
}

func TestLoadFileAndResolvePaths(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "craftvisor.toml", `
[server]
name = "survival"
jar = "srv/paper.jar"
args = ["-Xmx2G"]
stop_timeout = "45s"

[alerts]
cpu_percent = 90
cooldown = "1m"

[console]
log_file = "logs/console.log"

[history]
sinks = ["history.db", "postgres://u:p@db/mc"]

[[schedules]]
name = "nightly"
cron = "0 4 * * *"
action = "restart"
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "survival", c.Server.Name)
	assert.Equal(t, filepath.Join(dir, "srv", "paper.jar"), c.Server.Jar)
	assert.Equal(t, filepath.Join(dir, "srv"), c.Server.WorkDir)
	assert.Equal(t, filepath.Join(dir, "srv", "server.properties"), c.Server.PropertiesFile)
	assert.Equal(t, filepath.Join(dir, "srv", "eula.txt"), c.Server.EULAFile)
	assert.Equal(t, filepath.Join(dir, "srv", ".craftvisor.lock"), c.Server.LockFile)
	assert.Equal(t, filepath.Join(dir, "logs", "console.log"), c.Console.LogFile)
	assert.Equal(t, []string{filepath.Join(dir, "history.db"), "postgres://u:p@db/mc"}, c.History.Sinks)
	assert.Equal(t, []string{"-Xmx2G"}, c.Server.Args)
	assert.Equal(t, 45*time.Second, c.Server.StopTimeout)
	assert.Equal(t, 90.0, c.Alerts.CPUPercent)
	assert.Equal(t, 85.0, c.Alerts.MemoryPercent)
	assert.Equal(t, time.Minute, c.Alerts.Cooldown)
	require.Len(t, c.Schedules, 1)
	assert.Equal(t, "restart", c.Schedules[0].Action)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAFTVISOR_SERVER_JAR", "/opt/mc/server.jar")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/opt/mc/server.jar", c.Server.Jar)
	assert.Equal(t, "/opt/mc", c.Server.WorkDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad alerts": "[alerts]\ncpu_percent = -1\n",
		"dup schedule": `
[[schedules]]
name = "a"
cron = "@hourly"
[[schedules]]
name = "a"
cron = "@daily"
`,
		"no cron":     "[[schedules]]\nname = \"a\"\n",
		"bad pattern": "[[console.patterns]]\naction = \"player_joined\"\nregex = \"(\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, dir, "c.toml", body)
			_, err := Load(p)
			assert.Error(t, err)
		})
	}
}

func TestLaunchMergesEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, "server.env", "# comment\nA=file\nB=file\n\n")
	c := &Config{Server: ServerConfig{
		JavaPath:    "java",
		Jar:         "/srv/server.jar",
		WorkDir:     "/srv",
		Args:        []string{"-Xmx1G"},
		EnvFiles:    []string{envFile},
		Env:         []string{"B=inline", "C=inline"},
		StopTimeout: 10 * time.Second,
	}}
	l, err := c.Launch()
	require.NoError(t, err)
	assert.Equal(t, []string{"A=file", "B=inline", "C=inline"}, l.Env)
	assert.Equal(t, "/srv/server.jar", l.JarPath)
	assert.Equal(t, 10*time.Second, l.StopTimeout)

	c.Server.Env, c.Server.EnvFiles = nil, nil
	l, err = c.Launch()
	require.NoError(t, err)
	assert.Nil(t, l.Env)

	c.Server.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	_, err = c.Launch()
	assert.Error(t, err)
}
