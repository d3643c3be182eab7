// Package remote talks to the plate store: best-effort writes from the
// frame loop and on-demand reads for the dashboard.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"anpr-pipeline/internal/domain/anpr"
)

const (
	storePlatePath  = "/store_plate/"
	listPlatesPath  = "/plates/"
	requestIDHeader = "X-Request-ID"
)

var ErrUnexpectedStatus = errors.New("unexpected status from plate store")

// PlateStorer is the write side used by the Forwarder.
type PlateStorer interface {
	StorePlate(ctx context.Context, plate string) error
}

// PlateLister is the read side used by the Reconciler.
type PlateLister interface {
	ListPlates(ctx context.Context) ([]anpr.RemoteRecord, error)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a store client. timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) StorePlate(ctx context.Context, plate string) error {
	body, err := json.Marshal(anpr.StorePlateRequest{Plate: plate})
	if err != nil {
		return fmt.Errorf("encode store request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+storePlatePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) ListPlates(ctx context.Context) ([]anpr.RemoteRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+listPlatesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload anpr.PlatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode plates response: %w", err)
	}
	if payload.Plates == nil {
		payload.Plates = []anpr.RemoteRecord{}
	}
	return payload.Plates, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedStatus, req.Method, req.URL.Path,
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
