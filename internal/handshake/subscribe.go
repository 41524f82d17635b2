package handshake

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rickgao/iot-relay/internal/version"
)

// maxBlobSize bounds the handshake body read from the relay.
const maxBlobSize = 64 * 1024

// SubscribeURL builds the subscription URL for a device pair.
func (c *Client) SubscribeURL(token string, from, to int) string {
	return fmt.Sprintf("%s/subscribe?uuid=%s&from=%d&to=%d",
		c.baseURL, url.QueryEscape(token), from, to)
}

// Subscribe requests a relay session for from→to and returns the handshake blob.
// Non-201 responses are returned as *StatusError.
func (c *Client) Subscribe(ctx context.Context, token string, from, to int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SubscribeURL(token, from, to), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("subscribe response",
		"from", from,
		"to", to,
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	if resp.StatusCode != http.StatusCreated {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
