package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EULAAccepted reports whether eula.txt at path contains eula=true. A missing
// file is not accepted.
func EULAAccepted(path string) (bool, error) {
	values, err := readPropertiesFile(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(values["eula"]), "true"), nil
}

// AcceptEULA writes eula.txt with eula=true.
func AcceptEULA(path string, now time.Time) error {
	content := "#By changing the setting below to TRUE you are indicating your agreement to our EULA (https://aka.ms/MinecraftEULA).\n" +
		"#" + now.Format(time.UnixDate) + "\n" +
		"eula=true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
