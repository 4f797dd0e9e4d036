// Package supervisor reads device status from the balena supervisor the
// scanner runs under.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	Address    string
	APIKey     string
	HTTPClient *http.Client
}

type DeviceState struct {
	Status           string  `json:"status"`
	UpdatePending    bool    `json:"update_pending"`
	DownloadProgress float64 `json:"download_progress"`
	OSVersion        string  `json:"os_version"`
	MacAddress       string  `json:"mac_address"`
}

func NewClient(address, apiKey string) *Client {
	return &Client{
		Address:    address,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) State(ctx context.Context) (*DeviceState, error) {
	u := fmt.Sprintf("%s/v2/state/status?apikey=%s", c.Address, url.QueryEscape(c.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get supervisor state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supervisor returned status %d", resp.StatusCode)
	}

	var state DeviceState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode supervisor response: %w", err)
	}
	return &state, nil
}
