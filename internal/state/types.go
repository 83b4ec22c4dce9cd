// Package state provides persistent state management for the virtual filesystem.
package state

import (
	"errors"
	"fmt"
	"time"
)

// CurrentVersion is the profile format version written by this build.
const CurrentVersion = 1

// ErrProfileMismatch indicates a backing directory is being mounted with
// settings that differ from the ones its history was written with.
var ErrProfileMismatch = errors.New("mount profile mismatch")

// FSState records how a backing directory is mounted. Snapshot names and
// stored bytes both depend on these settings, so they must stay stable
// across mounts of the same directory.
type FSState struct {
	// Absolute backing directory the profile belongs to
	BackingDir string `json:"backing_dir"`

	// Separator between a head file name and its snapshot number
	Separator string `json:"separator"`

	// Byte shift of the content cipher
	CipherShift int `json:"cipher_shift"`

	// Number of successful mounts recorded
	Mounts int `json:"mounts"`

	// Time of the most recent mount
	LastMounted time.Time `json:"last_mounted"`

	// Version for future compatibility
	Version int `json:"version"`
}

// Bound reports whether the profile has been attached to a backing directory.
func (s *FSState) Bound() bool {
	return s.BackingDir != ""
}

// CheckCompatible verifies that mounting backingDir with the given settings
// matches what the profile recorded earlier. An unbound profile accepts
// anything.
func (s *FSState) CheckCompatible(backingDir, separator string, shift int) error {
	if !s.Bound() {
		return nil
	}
	if s.BackingDir != backingDir {
		return fmt.Errorf("%w: profile belongs to %q, not %q", ErrProfileMismatch, s.BackingDir, backingDir)
	}
	if s.Separator != separator {
		return fmt.Errorf("%w: history uses separator %q, mount requested %q", ErrProfileMismatch, s.Separator, separator)
	}
	if s.CipherShift != shift {
		return fmt.Errorf("%w: content was stored with shift %d, mount requested %d", ErrProfileMismatch, s.CipherShift, shift)
	}
	return nil
}

// RecordMount binds the profile to the given settings and counts a mount.
func (s *FSState) RecordMount(backingDir, separator string, shift int, now time.Time) {
	s.BackingDir = backingDir
	s.Separator = separator
	s.CipherShift = shift
	s.Mounts++
	s.LastMounted = now
	s.Version = CurrentVersion
}
