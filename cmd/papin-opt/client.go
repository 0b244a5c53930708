package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	diaghttp "github.com/PolycarpusTack/papin-sub003/internal/adapters/primary/http"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
)

// diagnosticsClient talks to a running papin-opt diagnostics server
type diagnosticsClient struct {
	baseURL    string
	httpClient *http.Client
}

func newDiagnosticsClient(baseURL string, timeout time.Duration) *diagnosticsClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &diagnosticsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Stats fetches the combined stats report
func (c *diagnosticsClient) Stats(ctx context.Context) (*entities.StatsReport, error) {
	var report entities.StatsReport
	if err := c.do(ctx, http.MethodGet, "/api/stats", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ForceGC asks the server to run a reclamation pass
func (c *diagnosticsClient) ForceGC(ctx context.Context, aggressive bool) (*diaghttp.GCResponse, error) {
	var result diaghttp.GCResponse
	path := "/api/memory/gc?aggressive=" + strconv.FormatBool(aggressive)
	if err := c.do(ctx, http.MethodPost, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *diagnosticsClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting diagnostics server at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr diaghttp.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("diagnostics server returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("diagnostics server returned %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// serverURL resolves --addr, falling back to the configured diagnostics address.
// A wildcard bind host is reached through loopback.
func serverURL(cmd *cobra.Command) (string, error) {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		if strings.Contains(addr, "://") {
			return addr, nil
		}
		return "http://" + addr, nil
	}

	finalConfig, err := loadConfig(cmd, nil)
	if err != nil {
		return "", err
	}

	host := finalConfig.Diagnostics.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(finalConfig.Diagnostics.Port)), nil
}
