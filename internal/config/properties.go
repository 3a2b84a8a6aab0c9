package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Properties is a cached view of server.properties. Reads never touch the
// file; Reload and the watcher refresh the cache.
type Properties struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]string

	subMu     sync.Mutex
	listeners []func(*Properties)

	watcher *viper.Viper
}

// OpenProperties loads path. A missing file yields an empty set.
func OpenProperties(path string, logger *slog.Logger) (*Properties, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Properties{path: path, logger: logger, values: map[string]string{}}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Properties) Path() string { return p.path }

// readPropertiesFile parses a Java properties file through viper's codec and
// flattens the result back into dotted keys.
func readPropertiesFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make(map[string]string)
	for _, k := range v.AllKeys() {
		out[k] = v.GetString(k)
	}
	return out, nil
}

// Reload re-reads the file and notifies listeners.
func (p *Properties) Reload() error {
	values, err := readPropertiesFile(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.values = values
	p.mu.Unlock()

	p.subMu.Lock()
	ls := append([]func(*Properties){}, p.listeners...)
	p.subMu.Unlock()
	for _, fn := range ls {
		fn(p)
	}
	return nil
}

// Get returns the value for key and whether it is set.
func (p *Properties) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[strings.ToLower(key)]
	return v, ok
}

// All returns a copy of every property.
func (p *Properties) All() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// MaxPlayers returns max-players, or 0 when missing or invalid.
func (p *Properties) MaxPlayers() uint32 {
	v, ok := p.Get("max-players")
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// Set updates the cache; Save persists it.
func (p *Properties) Set(key, value string) {
	p.mu.Lock()
	p.values[strings.ToLower(key)] = value
	p.mu.Unlock()
}

// Save writes every property back, sorted by key.
func (p *Properties) Save() error {
	values := p.All()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("#Minecraft server properties\n")
	for _, k := range keys {
		b.WriteString(k + "=" + escapeProperty(values[k]) + "\n")
	}
	return os.WriteFile(p.path, []byte(b.String()), 0o644)
}

func escapeProperty(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "\n", `\n`, ":", `\:`, "=", `\=`)
	return r.Replace(s)
}

// OnChange registers fn to run after every reload.
func (p *Properties) OnChange(fn func(*Properties)) {
	p.subMu.Lock()
	p.listeners = append(p.listeners, fn)
	p.subMu.Unlock()
}

// Watch reloads the cache whenever the file changes. The file must exist.
func (p *Properties) Watch() error {
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("watch %s: %w", p.path, err)
	}
	// only used for its fsnotify watcher; values are read by Reload
	w := viper.New()
	w.SetConfigFile(p.path)
	w.SetConfigType("properties")
	if err := w.ReadInConfig(); err != nil {
		return err
	}
	w.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := p.Reload(); err != nil {
			p.logger.Warn("Failed to reload server properties", "path", p.path, "error", err)
			return
		}
		p.logger.Info("Reloaded server properties", "path", p.path, "max_players", p.MaxPlayers())
	})
	w.WatchConfig()
	p.watcher = w
	return nil
}
