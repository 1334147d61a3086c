// Package assets keeps the large objects that versioned values point to in
// a Kubo (IPFS) node. Values are small JSON manifests; the bytes they refer
// to live in IPFS and stay pinned while some value references them.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocid "github.com/ipfs/go-cid"
)

// Client talks to the Kubo RPC API, e.g. http://127.0.0.1:5001/api/v0.
type Client struct {
	apiURL string
	client *http.Client
}

func NewClient(apiURL string) *Client {
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (k *Client) post(ctx context.Context, path string, args url.Values, contentType string, body io.Reader) (*http.Response, error) {
	u := k.apiURL + path
	if len(args) > 0 {
		u += "?" + args.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return k.client.Do(req)
}

// IsAvailable checks if the daemon is reachable.
func (k *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := k.post(ctx, "/id", nil, "", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Add uploads content and returns its CID. Kubo pins added content by
// default.
func (k *Client) Add(ctx context.Context, content []byte) (gocid.Cid, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "data")
	if err != nil {
		return gocid.Undef, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return gocid.Undef, fmt.Errorf("write form data: %w", err)
	}
	w.Close()

	resp, err := k.post(ctx, "/add", url.Values{"cid-version": {"1"}}, w.FormDataContentType(), &buf)
	if err != nil {
		return gocid.Undef, fmt.Errorf("ipfs add: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return gocid.Undef, fmt.Errorf("ipfs add: status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return gocid.Undef, fmt.Errorf("ipfs add: parse response: %w", err)
	}
	c, err := gocid.Decode(result.Hash)
	if err != nil {
		return gocid.Undef, fmt.Errorf("ipfs add: bad cid %q: %w", result.Hash, err)
	}
	return c, nil
}

// Cat retrieves content by CID.
func (k *Client) Cat(ctx context.Context, c gocid.Cid) ([]byte, error) {
	resp, err := k.post(ctx, "/cat", url.Values{"arg": {c.String()}}, "", nil)
	if err != nil {
		return nil, fmt.Errorf("ipfs cat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ipfs cat: status %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// Pin protects c from garbage collection.
func (k *Client) Pin(ctx context.Context, c gocid.Cid) error {
	resp, err := k.post(ctx, "/pin/add", url.Values{"arg": {c.String()}}, "", nil)
	if err != nil {
		return fmt.Errorf("ipfs pin: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ipfs pin: status %d", resp.StatusCode)
	}
	return nil
}

// Unpin releases c so the node may garbage-collect it. Unpinning content
// that is not pinned succeeds.
func (k *Client) Unpin(ctx context.Context, c gocid.Cid) error {
	resp, err := k.post(ctx, "/pin/rm", url.Values{"arg": {c.String()}}, "", nil)
	if err != nil {
		return fmt.Errorf("ipfs unpin: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), "not pinned") {
		return nil
	}
	return fmt.Errorf("ipfs unpin: status %d: %s", resp.StatusCode, body)
}
