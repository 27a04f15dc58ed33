package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"anima/internal/bootstrap"
	"anima/internal/substrate"
)

// apiClient talks to a running daemon over its HTTP edge.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base:  fmt.Sprintf("http://localhost:%d", cfg.Port),
		token: cfg.Token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s (%d)", e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return data, nil
}

// printJSON re-indents a raw API response for the terminal.
func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loop state and cycle metrics",
	RunE: func(*cobra.Command, []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		raw, err := c.do(http.MethodGet, "/api/loop/status", nil)
		if err != nil {
			return err
		}
		printJSON(raw)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a conversation message to the agent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		raw, err := c.do(http.MethodPost, "/api/conversation/send",
			map[string]string{"message": strings.Join(args, " ")})
		if err != nil {
			return err
		}
		var reply struct {
			Response string `json:"response"`
		}
		if json.Unmarshal(raw, &reply) == nil && reply.Response != "" {
			fmt.Println(reply.Response)
			return nil
		}
		printJSON(raw)
		return nil
	},
}

var substrateCmd = &cobra.Command{
	Use:   "substrate <ID>",
	Short: "Print a substrate file (e.g. PLAN, MEMORY, PROGRESS)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		raw, err := c.do(http.MethodGet, "/api/substrate/"+strings.ToUpper(args[0]), nil)
		if err != nil {
			return err
		}
		var file struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &file); err != nil {
			return err
		}
		fmt.Print(file.Content)
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Seed a substrate directory with starter files",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		created, err := bootstrap.Seed(substrate.OS{}, cfg.SubstratePath)
		if err != nil {
			return err
		}
		if len(created) == 0 {
			fmt.Printf("substrate at %s already complete\n", cfg.SubstratePath)
			return nil
		}
		for _, id := range created {
			fmt.Printf("created %s\n", id)
		}
		return nil
	},
}

// version is stamped by the build; "dev" outside a release.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the anima version",
	Run: func(*cobra.Command, []string) {
		fmt.Fprintf(os.Stdout, "anima %s\n", version)
	},
}
