package candidate

import (
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const attrCandidate = "candidate"

// NormalizeSDP rewrites every "a=candidate:" attribute of a session description
// with Normalize and returns the number of substitutions. When nothing was
// replaced the original text is returned as-is.
func NormalizeSDP(desc string) (string, int) {
	if desc == "" {
		return desc, 0
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc)); err != nil {
		return normalizeSDPLines(desc)
	}

	replaced := normalizeAttributes(parsed.Attributes)
	for _, media := range parsed.MediaDescriptions {
		replaced += normalizeAttributes(media.Attributes)
	}
	if replaced == 0 {
		return desc, 0
	}

	out, err := parsed.Marshal()
	if err != nil {
		return normalizeSDPLines(desc)
	}
	return string(out), replaced
}

func normalizeAttributes(attrs []sdp.Attribute) int {
	replaced := 0
	for i := range attrs {
		if attrs[i].Key != attrCandidate {
			continue
		}
		if v, ok := Normalize(attrs[i].Value); ok {
			attrs[i].Value = v
			replaced++
		}
	}
	return replaced
}

// normalizeSDPLines is used for descriptions pion/sdp refuses to parse.
func normalizeSDPLines(desc string) (string, int) {
	lines := strings.Split(desc, "\n")
	replaced := 0
	for i, line := range lines {
		trimmed := strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(trimmed, "a="+Prefix) {
			continue
		}
		v, ok := Normalize(strings.TrimSpace(trimmed[2:]))
		if !ok {
			continue
		}
		suffix := line[len(trimmed):]
		lines[i] = "a=" + v + suffix
		replaced++
	}
	if replaced == 0 {
		return desc, 0
	}
	return strings.Join(lines, "\n"), replaced
}

// ExtractFromSDP returns every candidate attribute of a session description as
// an ICECandidateInit. Each candidate carries the mid and zero-based m-line
// index of the media section it appeared in.
func ExtractFromSDP(desc string) []webrtc.ICECandidateInit {
	if desc == "" {
		return nil
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc)); err != nil {
		return extractSDPLines(desc)
	}

	var out []webrtc.ICECandidateInit
	for i, media := range parsed.MediaDescriptions {
		var mid *string
		if v, ok := media.Attribute("mid"); ok {
			v = strings.TrimSpace(v)
			mid = &v
		}
		index := uint16(i)
		for _, attr := range media.Attributes {
			if attr.Key != attrCandidate {
				continue
			}
			out = append(out, webrtc.ICECandidateInit{
				Candidate:     Prefix + strings.TrimSpace(attr.Value),
				SDPMid:        mid,
				SDPMLineIndex: &index,
			})
		}
	}
	return out
}

func extractSDPLines(desc string) []webrtc.ICECandidateInit {
	var (
		out   []webrtc.ICECandidateInit
		mid   *string
		index = -1
	)
	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "m="):
			index++
			mid = nil
		case strings.HasPrefix(line, "a=mid:"):
			v := strings.TrimSpace(line[len("a=mid:"):])
			mid = &v
		case strings.HasPrefix(line, "a="+Prefix):
			init := webrtc.ICECandidateInit{
				Candidate: strings.TrimSpace(line[2:]),
				SDPMid:    mid,
			}
			if index >= 0 {
				i := uint16(index)
				init.SDPMLineIndex = &i
			}
			out = append(out, init)
		}
	}
	return out
}
