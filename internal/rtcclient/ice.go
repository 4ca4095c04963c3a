package rtcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"
)

// FetchICEServers reads the server's ICE configuration from
// baseURL + "/webrtc/ice". A nil client uses http.DefaultClient.
func FetchICEServers(ctx context.Context, client *http.Client, baseURL string) ([]webrtc.ICEServer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/webrtc/ice", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSignalResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read ice servers: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SignalingError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}
	return body.ICEServers, nil
}
