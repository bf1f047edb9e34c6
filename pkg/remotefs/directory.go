package remotefs

import (
	"fmt"
	"strings"
)

// Navigator is the set of cursor primitives a protocol adapter exposes to
// DirectoryState. Each call moves the remote working directory of one
// connection.
type Navigator interface {
	// ChangeToAbsolute jumps straight to dir. The argument is passed through
	// unnormalized.
	ChangeToAbsolute(dir string) error
	ChangeToParent() error
	ChangeToChild(name string) error
	CreateDirectory(name string) error
}

// DirectoryState mirrors the remote working directory of a session and
// reaches new targets with the fewest parent/child steps. It is not safe for
// concurrent use; a session owns exactly one.
type DirectoryState struct {
	nav      Navigator
	absolute bool
	segments []string
}

func NewDirectoryState(nav Navigator) *DirectoryState {
	return &DirectoryState{nav: nav, segments: []string{}}
}

// ChangeWorkingDirectory moves the remote cursor to target. Relative targets
// are diffed against the current segments; absolute targets are handed to the
// navigator as a single jump. When a primitive fails the remaining steps are
// skipped and the recorded state reflects the steps that did succeed.
func (d *DirectoryState) ChangeWorkingDirectory(target string, create bool) error {
	next := SplitPath(target)

	if IsAbsolute(target) {
		d.absolute = true
		d.segments = next
		return d.changeToAbsolute(target, next, create)
	}

	common := 0
	for common < len(d.segments) && common < len(next) && d.segments[common] == next[common] {
		common++
	}
	for len(d.segments) > common {
		if err := d.nav.ChangeToParent(); err != nil {
			return err
		}
		d.segments = d.segments[:len(d.segments)-1]
	}
	for len(d.segments) < len(next) {
		name := next[len(d.segments)]
		if err := d.changeToChild(name, create); err != nil {
			return err
		}
		d.segments = append(d.segments, name)
	}
	return nil
}

func (d *DirectoryState) changeToAbsolute(target string, segments []string, create bool) error {
	err := d.nav.ChangeToAbsolute(target)
	if err == nil || !create {
		return err
	}
	if err := d.nav.ChangeToAbsolute("/"); err != nil {
		return fmt.Errorf("change to directory %s: %w", target, err)
	}
	for _, name := range segments {
		if err := d.changeToChild(name, true); err != nil {
			return err
		}
	}
	return nil
}

// changeToChild steps into name, creating it and retrying exactly once when
// create is set.
func (d *DirectoryState) changeToChild(name string, create bool) error {
	err := d.nav.ChangeToChild(name)
	if err == nil || !create {
		return err
	}
	if err := d.nav.CreateDirectory(name); err != nil {
		return err
	}
	return d.nav.ChangeToChild(name)
}

// CurrentDirectory renders the tracked state, with a leading slash only when
// the last absolute jump set it.
func (d *DirectoryState) CurrentDirectory() string {
	joined := strings.Join(d.segments, "/")
	if d.absolute {
		return "/" + joined
	}
	return joined
}

// Segments returns a copy of the tracked path components.
func (d *DirectoryState) Segments() []string {
	return append([]string(nil), d.segments...)
}
