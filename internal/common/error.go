package common

import (
	"errors"
	"fmt"
)

var (
	ErrRepositoryNotConfigured = fmt.Errorf("repository URL not configured")
	ErrModNotFound             = fmt.Errorf("mod not found in repository")
	ErrNetwork                 = fmt.Errorf("network error")
	ErrFilesystem              = fmt.Errorf("filesystem error")
	ErrArchiveLayout           = fmt.Errorf("unexpected archive layout")
	ErrPartialSync             = fmt.Errorf("some mods were not installed")
	ErrNotesNotFound           = fmt.Errorf("repository has no notes")
	ErrProcessExit             = fmt.Errorf("process exited with error")
)

// Describe returns a message suitable for showing to the user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRepositoryNotConfigured):
		return "Repository URL is not configured"
	case errors.Is(err, ErrModNotFound):
		return "Mod not found in repository"
	case errors.Is(err, ErrNetwork):
		return "Cannot reach mod repository: " + err.Error()
	case errors.Is(err, ErrArchiveLayout):
		return "Mod repository archive has unexpected layout: " + err.Error()
	case errors.Is(err, ErrFilesystem):
		return "Filesystem error: " + err.Error()
	case errors.Is(err, ErrPartialSync):
		return "Some mods were not installed: " + err.Error()
	case errors.Is(err, ErrNotesNotFound):
		return "Repository has no notes"
	case errors.Is(err, ErrProcessExit):
		return err.Error()
	}

	return err.Error()
}
