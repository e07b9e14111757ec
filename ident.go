// Package buildorch contains the types shared across the build
// orchestration core: package identifiers, targets, and the process-wide
// error kind used to translate internal failures into RPC responses.
package buildorch

import (
	"fmt"
	"strconv"
	"strings"
)

// ShortIdent identifies a package independent of version: the
// (origin, name) pair under which a plan lives.
type ShortIdent struct {
	Origin string
	Name   string
}

func (s ShortIdent) String() string {
	return s.Origin + "/" + s.Name
}

// Ident is the four-tuple (origin, name, version, release) identifying one
// immutable build of a package. Release is a monotonically increasing
// timestamp string assigned by the store at build time.
type Ident struct {
	Origin  string
	Name    string
	Version string
	Release string
}

// Short returns the (origin, name) pair of id.
func (id Ident) Short() ShortIdent {
	return ShortIdent{Origin: id.Origin, Name: id.Name}
}

// FullySpecified reports whether every component of id is non-empty.
func (id Ident) FullySpecified() bool {
	return id.Origin != "" && id.Name != "" && id.Version != "" && id.Release != ""
}

func (id Ident) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", id.Origin, id.Name, id.Version, id.Release)
}

// Equal compares all four components.
func (id Ident) Equal(other Ident) bool {
	return id == other
}

// ParseIdent parses the canonical "origin/name/version/release" form
// produced by Ident.String. It is lenient about missing trailing
// components, mirroring distri's ParseVersion leniency for partially
// specified package strings.
func ParseIdent(s string) (Ident, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 {
		return Ident{}, fmt.Errorf("buildorch: %q is not a valid package ident (want origin/name[/version[/release]])", s)
	}
	var id Ident
	id.Origin = parts[0]
	id.Name = parts[1]
	if len(parts) > 2 {
		id.Version = parts[2]
	}
	if len(parts) > 3 {
		id.Release = parts[3]
	}
	return id, nil
}

// Less orders idents the way the planner and store must: numerically by
// version, then lexicographically by release. Non-numeric version
// components compare as zero, so malformed versions sort first rather than
// panicking.
func Less(a, b Ident) bool {
	av, bv := versionNumber(a.Version), versionNumber(b.Version)
	if av != bv {
		return av < bv
	}
	return a.Release < b.Release
}

func versionNumber(v string) float64 {
	// Only the leading numeric run is significant, e.g. "2.27" in "2.27-rc1".
	end := 0
	seenDot := false
	for end < len(v) {
		c := v[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0
	}
	f, err := strconv.ParseFloat(v[:end], 64)
	if err != nil {
		return 0
	}
	return f
}
