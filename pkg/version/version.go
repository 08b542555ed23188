// Package version holds the protocol and software versions exchanged during
// authentication and advertised over mDNS.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the command protocol version implemented by this module.
const Current = "1.0"

// Software identification sent in authenticate requests. Release builds
// override Software and BuildDate with -ldflags.
var (
	Source    = "gridpulse"
	Software  = "0.9.0-dev"
	BuildDate = "unknown"
)

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minor, ".") {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	min, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(maj), Minor: uint16(min)}, nil
}

// MustCurrent returns the parsed Current version.
func MustCurrent() ProtocolVersion {
	v, err := Parse(Current)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// CompatibleWith reports whether a remote version string can talk to this
// implementation.
func CompatibleWith(remote string) bool {
	v, err := Parse(remote)
	if err != nil {
		return false
	}
	return MustCurrent().Compatible(v)
}

// Describe returns "<source> version <software> built on <date>".
func Describe() string {
	return fmt.Sprintf("%s version %s built on %s", Source, Software, BuildDate)
}
