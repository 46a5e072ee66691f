package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/models"
)

// StatusClient reads the hub's status endpoint
type StatusClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStatusClient creates a client for the status endpoint at addr, given
// as host:port, :port or a full http URL.
func NewStatusClient(addr string, timeout time.Duration) *StatusClient {
	return &StatusClient{
		baseURL: BaseURL(addr),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL normalizes a status address into an http base URL
func BaseURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// BuildURL constructs a full URL for the given endpoint
func (c *StatusClient) BuildURL(endpoint string) string {
	return c.baseURL + endpoint
}

// Status fetches the hub's queue and session snapshot
func (c *StatusClient) Status() (*models.HubStatus, error) {
	var status models.HubStatus
	if err := c.get("/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Metrics fetches the raw Prometheus exposition text
func (c *StatusClient) Metrics() (string, error) {
	var body strings.Builder
	if err := c.get("/metrics", &body); err != nil {
		return "", err
	}
	return body.String(), nil
}

// get issues a GET and decodes JSON into result, or copies the body when
// result is an io.Writer
func (c *StatusClient) get(endpoint string, result interface{}) error {
	url := c.BuildURL(endpoint)
	start := time.Now()
	logger.Debug("Starting GET request to %s", url)

	resp, err := c.httpClient.Get(url)
	if err != nil {
		logger.Error("Request to %s failed after %v: %v", url, time.Since(start), err)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	logger.Debug("Request to %s completed in %v with status %d", url, time.Since(start), resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if w, ok := result.(io.Writer); ok {
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("error reading response: %w", err)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
