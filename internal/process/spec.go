package process

import (
	"os/exec"
	"path/filepath"
)

// Spec describes one launch of the server artifact.
type Spec struct {
	JavaPath string   `json:"java_path"` // runtime executable, resolved through PATH when relative
	JarPath  string   `json:"jar_path"`  // artifact passed to -jar
	WorkDir  string   `json:"work_dir"`  // working directory; defaults to the jar's directory
	Args     []string `json:"args"`      // runtime flags placed before -jar
	Env      []string `json:"env"`       // optional extra KEY=VALUE entries
}

// Argv returns runtime flags followed by the mandatory "-jar <jar> nogui".
func (s Spec) Argv() []string {
	out := make([]string, 0, len(s.Args)+3)
	out = append(out, s.Args...)
	return append(out, "-jar", s.JarPath, "nogui")
}

// Dir returns the effective working directory.
func (s Spec) Dir() string {
	if s.WorkDir != "" {
		return s.WorkDir
	}
	if s.JarPath != "" {
		return filepath.Dir(s.JarPath)
	}
	return ""
}

// BuildCommand constructs the *exec.Cmd without starting it.
func (s Spec) BuildCommand() *exec.Cmd {
	java := s.JavaPath
	if java == "" {
		java = "java"
	}
	// #nosec G204 -- launch parameters come from operator configuration
	cmd := exec.Command(java, s.Argv()...)
	cmd.Dir = s.Dir()
	if len(s.Env) > 0 {
		cmd.Env = append(cmd.Environ(), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd
}
