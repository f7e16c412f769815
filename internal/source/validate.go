package source

import (
	"fmt"
	"os"
	"strings"
)

// PathValidator checks an output location before anything is submitted
type PathValidator interface {
	Validate(dest string) error
}

// UNCValidator accepts \\server\share paths. Exchange writes the PST files
// itself, so a local path would point at the mail server's disk.
type UNCValidator struct{}

func (UNCValidator) Validate(dest string) error {
	if !IsUNC(dest) {
		return fmt.Errorf("destination %q is not a UNC path (\\\\server\\share)", dest)
	}
	parts := strings.Split(strings.TrimPrefix(dest, `\\`), `\`)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("destination %q needs both server and share", dest)
	}
	return nil
}

// LocalDirValidator requires an existing directory; used for simulated runs
type LocalDirValidator struct{}

func (LocalDirValidator) Validate(dest string) error {
	if dest == "" {
		return fmt.Errorf("destination is required")
	}
	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("destination %q: %w", dest, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination %q is not a directory", dest)
	}
	return nil
}
