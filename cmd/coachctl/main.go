package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	serverURL  string
	adminToken string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coachctl",
		Short: "Administer a habit coach server",
		Long: `coachctl drives the admin surface of a habit coach server.
Output is JSON (pipe through jq for human-readable formatting).`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("COACH_SERVER", "http://localhost:8080"), "Coach server URL")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("ADMIN_API_TOKEN"), "Admin bearer token")

	rootCmd.AddCommand(newRetrainCommand())
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newTemplatesCommand())
	rootCmd.AddCommand(newWarmCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newJobsCommand())
	rootCmd.AddCommand(newPredictCommand())
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: strings.TrimRight(serverURL, "/") + "/api/v1",
		Token:   adminToken,
		// Inline retrains can run for minutes.
		HTTP: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do(http.MethodGet, path, params, nil)
}

func (c *Client) post(path string, params url.Values, data interface{}) ([]byte, error) {
	return c.do(http.MethodPost, path, params, data)
}

// printJSON re-indents a JSON response onto out.
func printJSON(out io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, werr := out.Write(data)
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
