// Package kubo talks to the local storage node's HTTP API (add, pin,
// routing, swarm, block/cat reads) using the fixed parameter set needed
// to reproduce a publisher's content id exactly (spec §4.4 step 2).
// Grounded on the teacher's pkg/storage.Client doRequest pattern, widened
// from a single-purpose bag-download API to a general Kubo-style RPC
// surface.
package kubo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// ErrNotFound mirrors the teacher's storage.ErrNotFound for 404 responses.
var ErrNotFound = errors.New("not found")

// Client talks to one Kubo-compatible RPC endpoint.
type Client struct {
	base       string
	httpClient *http.Client
}

// New builds a Client against baseURL (e.g. "http://127.0.0.1:5001").
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: baseURL, httpClient: httpClient}
}

// Add uploads content and returns the resulting CID. Parameters are fixed
// to exactly reproduce the publisher's chunking/hashing (spec §4.4 step 2):
// wrap-with-directory=false, chunker=size-262144, raw-leaves=false,
// cid-version=0, hash=sha2-256.
func (c *Client) Add(ctx context.Context, filename string, content []byte) (AddResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return AddResponse{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return AddResponse{}, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return AddResponse{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	q := url.Values{}
	q.Set("wrap-with-directory", "false")
	q.Set("chunker", "size-262144")
	q.Set("raw-leaves", "false")
	q.Set("cid-version", "0")
	q.Set("hash", "sha2-256")

	var res AddResponse
	if err := c.doMultipart(ctx, "/api/v0/add?"+q.Encode(), writer.FormDataContentType(), body, &res); err != nil {
		return AddResponse{}, fmt.Errorf("failed to add content: %w", err)
	}
	return res, nil
}

// PinAdd pins an already-added cid.
func (c *Client) PinAdd(ctx context.Context, cid string) (PinAddResponse, error) {
	var res PinAddResponse
	if err := c.doRequest(ctx, "/api/v0/pin/add?arg="+url.QueryEscape(cid), &res); err != nil {
		return PinAddResponse{}, fmt.Errorf("failed to pin: %w", err)
	}
	return res, nil
}

// PinRm unpins cid.
func (c *Client) PinRm(ctx context.Context, cid string) (PinRmResponse, error) {
	var res PinRmResponse
	if err := c.doRequest(ctx, "/api/v0/pin/rm?arg="+url.QueryEscape(cid), &res); err != nil {
		return PinRmResponse{}, fmt.Errorf("failed to unpin: %w", err)
	}
	return res, nil
}

// PinLs checks whether cid is present in the local pinned set (spec §4.4
// step 3's "confirm via pin/ls").
func (c *Client) PinLs(ctx context.Context, cid string) (bool, error) {
	var res PinLsResponse
	if err := c.doRequest(ctx, "/api/v0/pin/ls?arg="+url.QueryEscape(cid), &res); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to list pins: %w", err)
	}
	_, ok := res.Keys[cid]
	return ok, nil
}

// ID returns our own storage node's peer id and listen addresses. Nothing
// else in this module calls it.
func (c *Client) ID(ctx context.Context) (IDResponse, error) {
	var res IDResponse
	if err := c.doRequest(ctx, "/api/v0/id", &res); err != nil {
		return IDResponse{}, fmt.Errorf("failed to get node id: %w", err)
	}
	return res, nil
}

// FindProvs asks the DHT who provides cid, the dht_provider verification
// tier (spec §4.8.3 tier 1).
func (c *Client) FindProvs(ctx context.Context, cid string, numProviders int) ([]string, error) {
	q := url.Values{}
	q.Set("arg", cid)
	q.Set("num-providers", fmt.Sprint(numProviders))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v0/routing/findprovs?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build findprovs request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to findprovs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code is %d finding providers", resp.StatusCode)
	}

	var providerIDs []string
	dec := json.NewDecoder(resp.Body)
	for {
		var ev FindProvsResponse
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				break
			}
			return providerIDs, nil // partial stream is still useful
		}
		for _, r := range ev.Responses {
			providerIDs = append(providerIDs, r.ID)
		}
	}
	return providerIDs, nil
}

// SwarmConnect dials a peer directly, the bitswap verification tier's
// prerequisite (spec §4.8.3 tier 2).
func (c *Client) SwarmConnect(ctx context.Context, multiaddr string) error {
	var res struct{}
	if err := c.doRequest(ctx, "/api/v0/swarm/connect?arg="+url.QueryEscape(multiaddr), &res); err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}
	return nil
}

// BlockGet fetches one raw block by cid from the DAG, used to confirm a
// peer actually serves the bytes it claims to pin (spec §4.8.3 tier 2).
func (c *Client) BlockGet(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v0/block/get?arg="+url.QueryEscape(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build block/get request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code is %d getting block", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Cat retrieves the full content addressed by cid, the retrieval
// verification tier (spec §4.8.3 tier 3, the strongest and most
// expensive check).
func (c *Client) Cat(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v0/cat?arg="+url.QueryEscape(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build cat request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to cat content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code is %d catting content", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) doRequest(ctx context.Context, path string, resp any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, resp)
}

func (c *Client) doMultipart(ctx context.Context, path, contentType string, body io.Reader, resp any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, resp)
}

func (c *Client) do(req *http.Request, resp any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("status code is %d, body: %s", res.StatusCode, string(data))
	}

	if resp == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
