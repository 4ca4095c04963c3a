package latency

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ProbeType tags probe messages on the data channel.
const ProbeType = "latency-probe"

// Probe is the wire form of a latency probe. The responder echoes it back
// byte for byte.
type Probe struct {
	Type   string  `json:"type"`
	Seq    uint64  `json:"seq"`
	SentAt float64 `json:"sentAt"`
}

// EncodeProbe serializes a probe for seq sent at sentAt (milliseconds on the
// monitor's clock).
func EncodeProbe(seq uint64, sentAt float64) ([]byte, error) {
	return json.Marshal(Probe{Type: ProbeType, Seq: seq, SentAt: sentAt})
}

type probeEnvelope struct {
	Type string          `json:"type"`
	Seq  json.RawMessage `json:"seq"`
}

// decodeProbe reports whether payload is a probe-shaped JSON object. When it
// is, seqOK tells whether seq is a sequence number this package could have
// issued; probe-shaped payloads with any other numeric seq are still probes.
func decodeProbe(payload []byte) (seq uint64, seqOK bool, isProbe bool) {
	var env probeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return 0, false, false
	}
	if env.Type != ProbeType || !isJSONNumber(env.Seq) {
		return 0, false, false
	}
	n, err := strconv.ParseUint(string(env.Seq), 10, 64)
	if err != nil {
		return 0, false, true
	}
	return n, true, true
}

func isJSONNumber(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	c := raw[0]
	return c == '-' || (c >= '0' && c <= '9')
}
