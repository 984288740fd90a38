package spot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Listen-key lifecycle for the user data stream. These endpoints only
// need the API key header, not a signature.

// CreateListenKey opens a user data stream session and returns its key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.listenKeyRequest(ctx, http.MethodPost, "")
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the validity of an open session key.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	_, err := c.listenKeyRequest(ctx, http.MethodPut, listenKey)
	return err
}

// CloseListenKey releases a session key.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	_, err := c.listenKeyRequest(ctx, http.MethodDelete, listenKey)
	return err
}

// StreamURL returns the websocket endpoint for a listen key.
func (c *Client) StreamURL(listenKey string) string {
	host := "stream.binance.com:9443"
	if c.cfg.Testnet {
		host = "testnet.binance.vision"
	}
	u := url.URL{Scheme: "wss", Host: host, Path: "/ws/" + listenKey}
	return u.String()
}

func (c *Client) listenKeyRequest(ctx context.Context, method, listenKey string) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("spot: API key required")
	}

	endpoint := c.baseURL + "/api/v3/userDataStream"
	if listenKey != "" {
		params := url.Values{}
		params.Set("listenKey", listenKey)
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listen key %s status %d", method, res.StatusCode)
	}
	return io.ReadAll(res.Body)
}
