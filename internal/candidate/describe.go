package candidate

import (
	"strconv"
	"strings"

	"github.com/pion/ice/v4"
)

// Info is the subset of a candidate line that is useful in logs.
type Info struct {
	Kind     string
	Protocol string
	Address  string
	Port     string
}

// Host reports whether the candidate is a host-kind candidate.
func (i Info) Host() bool { return i.Kind == "host" }

// Describe parses a candidate line for diagnostics. Lines pion cannot parse
// fall back to positional fields; ok is false when neither works.
func Describe(line string) (Info, bool) {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), Prefix))
	if body == "" {
		return Info{}, false
	}

	if c, err := ice.UnmarshalCandidate(body); err == nil {
		return Info{
			Kind:     c.Type().String(),
			Protocol: strings.ToLower(c.NetworkType().NetworkShort()),
			Address:  c.Address(),
			Port:     strconv.Itoa(c.Port()),
		}, true
	}

	fields := strings.Fields(body)
	if len(fields) < 8 {
		return Info{}, false
	}
	return Info{
		Kind:     kindOf(fields),
		Protocol: strings.ToLower(fields[2]),
		Address:  fields[addressIndex],
		Port:     fields[5],
	}, true
}
