// Package gateway fetches content a publisher has offered to pay for
// pinning, from the gateway URL named in the offer (spec §4.4 step 1).
// Grounded on the teacher's pkg/storage.Client HTTP shape, stripped down
// to the single read path this daemon needs: it never writes to a
// gateway, only reads from one.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ErrTooLarge is returned when the gateway's declared or actual content
// size exceeds the configured cap (spec §4.4 step 1).
var ErrTooLarge = fmt.Errorf("content exceeds configured size limit")

// Client fetches cid content from a publisher-controlled gateway.
type Client struct {
	httpClient *http.Client
}

// New builds a Client that uses httpClient (http.DefaultClient when nil);
// request timeouts come from that client.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// Fetch retrieves cid from gateway, enforcing maxContentSize both against
// the declared Content-Length and against the actual bytes streamed, per
// spec §4.4 step 1 ("abort if the stream exceeds that limit regardless of
// declared length").
func (c *Client) Fetch(ctx context.Context, gateway, cid string, maxContentSize int64) ([]byte, error) {
	url := fmt.Sprintf("%s/ipfs/%s", gateway, cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code is %d fetching %s", resp.StatusCode, url)
	}

	if maxContentSize > 0 && resp.ContentLength > maxContentSize {
		return nil, ErrTooLarge
	}

	var limited io.Reader = resp.Body
	if maxContentSize > 0 {
		limited = io.LimitReader(resp.Body, maxContentSize+1)
	}

	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read content body: %w", err)
	}
	if maxContentSize > 0 && int64(len(body)) > maxContentSize {
		return nil, ErrTooLarge
	}

	return body, nil
}
