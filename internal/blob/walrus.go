package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Walrus talks to a Walrus publisher (uploads) and aggregator (downloads) over plain HTTP.
type Walrus struct {
	publisher  string       // Base URL of the publisher
	aggregator string       // Base URL of the aggregator
	epochs     int          // Storage epochs requested per upload
	hc         *http.Client // HTTP client with custom configuration
}

// walrusStoreResponse covers both shapes the publisher returns for PUT /v1/blobs.
type walrusStoreResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
}

// NewWalrus creates a Walrus client.
// Large media uploads are bounded by the caller's context rather than a client timeout.
// Parameters:
//   - publisherURL: Base URL of the publisher service
//   - aggregatorURL: Base URL of the aggregator service
//   - epochs: Number of storage epochs to request (values < 1 become 1)
//
// Returns:
//   - *Walrus: Initialized client
func NewWalrus(publisherURL, aggregatorURL string, epochs int) *Walrus {
	if epochs < 1 {
		epochs = 1
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		ResponseHeaderTimeout: 5 * time.Minute,
	}
	return &Walrus{
		publisher:  strings.TrimRight(publisherURL, "/"),
		aggregator: strings.TrimRight(aggregatorURL, "/"),
		epochs:     epochs,
		hc:         &http.Client{Transport: transport},
	}
}

// Upload stores data via PUT {publisher}/v1/blobs?epochs=N and returns the blob id.
func (w *Walrus) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	u, err := url.Parse(w.publisher + "/v1/blobs")
	if err != nil {
		return "", fmt.Errorf("invalid publisher url: %w", err)
	}
	q := u.Query()
	q.Set("epochs", strconv.Itoa(w.epochs))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.ContentLength = int64(len(data))

	resp, err := w.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &StatusError{Op: "upload", Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	var out walrusStoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	switch {
	case out.NewlyCreated != nil && out.NewlyCreated.BlobObject.BlobID != "":
		return out.NewlyCreated.BlobObject.BlobID, nil
	case out.AlreadyCertified != nil && out.AlreadyCertified.BlobID != "":
		return out.AlreadyCertified.BlobID, nil
	default:
		return "", fmt.Errorf("upload response carried no blob id")
	}
}

// Download fetches GET {aggregator}/v1/blobs/{id}.
func (w *Walrus) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blob download: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	default:
		defer resp.Body.Close()
		return nil, &StatusError{Op: "download", Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}
}

// URL returns the aggregator address for direct playback.
func (w *Walrus) URL(id string) string {
	return w.aggregator + "/v1/blobs/" + url.PathEscape(id)
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
