package config

import "fmt"

// minWebRTCSCTPReceiveBufferBytes is the smallest SCTP receive buffer
// pion/sctp accepts during association setup. Smaller values break INIT/INIT-ACK
// validation.
const minWebRTCSCTPReceiveBufferBytes = 1500

// validateSCTPMaxReceiveBufferBytes returns n unchanged when it is 0 (pion
// default) or a usable buffer size.
func validateSCTPMaxReceiveBufferBytes(n int) (int, error) {
	switch {
	case n < 0:
		return 0, fmt.Errorf("must be >= 0 (0 = pion default)")
	case n == 0:
		return 0, nil
	case n < minWebRTCSCTPReceiveBufferBytes:
		return 0, fmt.Errorf("must be >= %d", minWebRTCSCTPReceiveBufferBytes)
	default:
		return n, nil
	}
}
