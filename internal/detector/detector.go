// Package detector locates the running server process in the process table.
package detector

import (
	"os"
	"path/filepath"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// JavaFinder searches for the server runtime by executable name and artifact.
// It must be safe for concurrent use.
type JavaFinder struct {
	// Executable is the runtime's executable name, "java" when empty.
	Executable string
	// Artifact is matched against the command line by file name.
	Artifact string
	// WorkDir, when set, breaks ties in favour of the process running there.
	WorkDir string
}

func (f JavaFinder) executable() string {
	if f.Executable == "" {
		return "java"
	}
	return f.Executable
}

// Find returns the pid of the best candidate. Processes whose working
// directory equals WorkDir win; otherwise the first match is used.
func (f JavaFinder) Find() (int32, bool) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return 0, false
	}
	artifact := filepath.Base(f.Artifact)
	self := int32(os.Getpid())
	var first int32
	for _, p := range procs {
		if p.Pid == self || !f.nameMatches(p) {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || (artifact != "" && artifact != "." && !strings.Contains(cmdline, artifact)) {
			continue
		}
		if f.WorkDir != "" {
			if cwd, err := p.Cwd(); err == nil && samePath(cwd, f.WorkDir) {
				return p.Pid, true
			}
		}
		if first == 0 {
			first = p.Pid
		}
	}
	return first, first != 0
}

func (f JavaFinder) nameMatches(p *gopsproc.Process) bool {
	want := normalizeExe(f.executable())
	if name, err := p.Name(); err == nil && normalizeExe(name) == want {
		return true
	}
	if exe, err := p.Exe(); err == nil && normalizeExe(filepath.Base(exe)) == want {
		return true
	}
	return false
}

// Alive reports whether pid is still present in the process table.
func (JavaFinder) Alive(pid int32) bool { return Alive(pid) }

func (f JavaFinder) Describe() string {
	return "exe:" + f.executable() + " artifact:" + filepath.Base(f.Artifact)
}

// Alive reports whether a process with pid exists.
func Alive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(pid)
	return err == nil && ok
}

func normalizeExe(s string) string {
	return strings.TrimSuffix(strings.ToLower(s), ".exe")
}

func samePath(a, b string) bool {
	ca, err1 := filepath.Abs(a)
	cb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if ra, err := filepath.EvalSymlinks(ca); err == nil {
		ca = ra
	}
	if rb, err := filepath.EvalSymlinks(cb); err == nil {
		cb = rb
	}
	return ca == cb
}
