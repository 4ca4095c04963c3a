package config

import "testing"

func TestValidateSCTPMaxReceiveBufferBytes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      int
		want    int
		wantErr bool
	}{
		{in: 0, want: 0},
		{in: 1 << 20, want: 1 << 20},
		{in: minWebRTCSCTPReceiveBufferBytes, want: minWebRTCSCTPReceiveBufferBytes},
		{in: minWebRTCSCTPReceiveBufferBytes - 1, wantErr: true},
		{in: -1, wantErr: true},
	}
	for _, tc := range cases {
		got, err := validateSCTPMaxReceiveBufferBytes(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("validate(%d): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("validate(%d): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("validate(%d)=%d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSCTPMaxReceiveBufferBytes_FromFlag(t *testing.T) {
	cfg, err := load(lookupMap(nil), []string{"--" + flagWebRTCSCTPMaxReceiveBufferBytes, "65536"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebRTCSCTPMaxReceiveBufferBytes != 65536 {
		t.Fatalf("WebRTCSCTPMaxReceiveBufferBytes=%d, want 65536", cfg.WebRTCSCTPMaxReceiveBufferBytes)
	}
}
