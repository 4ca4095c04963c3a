// Package candidate rewrites ICE candidates that advertise addresses a remote
// peer cannot resolve (mDNS ".local" names, localhost, IPv6 loopback) so that
// both ends of a same-host session still find a usable path.
package candidate

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// Prefix is the optional leading token of a candidate line.
const Prefix = "candidate:"

// LoopbackAddress replaces unresolvable host candidate addresses.
const LoopbackAddress = "127.0.0.1"

const (
	minFields    = 6
	addressIndex = 4
)

// Normalize rewrites the address of a host-kind candidate whose address ends in
// ".local" or equals "localhost", "::1" or "[::1]" to LoopbackAddress. The
// second return value reports whether a substitution happened; when it is false
// the input is returned unchanged.
func Normalize(line string) (string, bool) {
	if line == "" {
		return line, false
	}

	hasPrefix := strings.HasPrefix(line, Prefix)
	body := line
	if hasPrefix {
		body = line[len(Prefix):]
	}
	fields := strings.Fields(body)
	if len(fields) < minFields {
		return line, false
	}
	if kindOf(fields) != "host" || !unresolvable(fields[addressIndex]) {
		return line, false
	}

	fields[addressIndex] = LoopbackAddress
	rebuilt := strings.Join(fields, " ")
	if hasPrefix {
		rebuilt = Prefix + rebuilt
	}
	return rebuilt, true
}

// NormalizeInit applies Normalize to the candidate string of init. The mid,
// m-line index and username fragment are carried over untouched.
func NormalizeInit(init webrtc.ICECandidateInit) (webrtc.ICECandidateInit, bool) {
	line, replaced := Normalize(init.Candidate)
	if !replaced {
		return init, false
	}
	init.Candidate = line
	return init, true
}

// NormalizeAll normalizes every candidate in the slice and returns the number
// of substitutions. The input slice is not modified.
func NormalizeAll(inits []webrtc.ICECandidateInit) ([]webrtc.ICECandidateInit, int) {
	if len(inits) == 0 {
		return inits, 0
	}
	out := make([]webrtc.ICECandidateInit, len(inits))
	replaced := 0
	for i, init := range inits {
		n, ok := NormalizeInit(init)
		if ok {
			replaced++
		}
		out[i] = n
	}
	return out, replaced
}

func kindOf(fields []string) string {
	for i, f := range fields {
		if f == "typ" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func unresolvable(address string) bool {
	if address == "" {
		return false
	}
	a := strings.ToLower(address)
	return strings.HasSuffix(a, ".local") || a == "localhost" || a == "::1" || a == "[::1]"
}
