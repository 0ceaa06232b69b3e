package printerapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/trunov/pdfpress/internal/config"
)

// Client calls the gateway's staged-conversion endpoint with basic auth.
// The gateway and the worker share the staging volume, so only the filename
// travels over the wire.
type Client struct {
	apiURL   string
	user     string
	password string
	http     *http.Client
}

func New(cfg config.WorkerConfig) *Client {
	return &Client{
		apiURL:   cfg.PrinterAPIURL,
		user:     cfg.User,
		password: cfg.Password,
		// No client timeout: a conversion blocks for as long as the engine
		// runs, and the worker processes one job at a time anyway.
		http: &http.Client{},
	}
}

func (c *Client) ConvertStaged(ctx context.Context, filename, options string, deleteOriginal bool) error {
	form := url.Values{}
	form.Set("filename", filename)
	if options != "" {
		form.Set("lo_options", options)
	}
	if deleteOriginal {
		form.Set("delete_original", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call printer api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("printer api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
