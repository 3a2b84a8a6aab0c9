// Package env composes the server process environment from layered sources.
package env

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env accumulates variables; later layers override earlier ones.
type Env struct {
	vars Var
}

func New() *Env {
	return &Env{vars: make(Var)}
}

// FromOS adds the supervisor's own environment.
func (e *Env) FromOS() *Env {
	return e.SetPairs(os.Environ())
}

// Set sets K=V.
func (e *Env) Set(k, v string) *Env {
	if k != "" {
		e.vars[k] = v
	}
	return e
}

// SetPairs applies "K=V" entries. Entries without '=' or with an empty key
// are ignored.
func (e *Env) SetPairs(kvs []string) *Env {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.vars[kv[:i]] = kv[i+1:]
		}
	}
	return e
}

// LoadFile applies a .env file: KEY=VALUE lines, '#' comments, an optional
// "export " prefix and optional surrounding quotes on the value.
func (e *Env) LoadFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			return fmt.Errorf("%s:%d: expected KEY=VALUE", path, n)
		}
		e.Set(strings.TrimSpace(line[:i]), unquote(strings.TrimSpace(line[i+1:])))
	}
	return sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// Len reports the number of variables.
func (e *Env) Len() int { return len(e.vars) }

// Environ returns sorted "K=V" pairs with ${VAR} references expanded once
// against the composed set. Unknown references expand to "".
func (e *Env) Environ() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+expand(v, e.vars))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+j]])
		s = s[i+j+1:]
	}
	b.WriteString(s)
	return b.String()
}
