package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// buildElevateCmd creates the "elevate" command group: an HTTP client
// against a running ralphlinectl serve process's /elevated/* routes, for
// an operator to list and resolve pending privilege-elevation requests.
func buildElevateCmd() *cobra.Command {
	var serverAddr string

	cmd := &cobra.Command{
		Use:   "elevate",
		Short: "Approve or deny pending worker privilege elevation requests",
	}
	cmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:19832", "ralphlinectl serve hook server address")

	cmd.AddCommand(
		buildElevateStatusCmd(&serverAddr),
		buildElevateApproveCmd(&serverAddr),
		buildElevateDenyCmd(&serverAddr),
	)
	return cmd
}

func buildElevateStatusCmd(serverAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a pending elevation's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return elevateGET(*serverAddr, "/elevated/status/"+args[0])
		},
	}
}

func buildElevateApproveCmd(serverAddr *string) *cobra.Command {
	var scopeTTL time.Duration
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending elevation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return elevatePOST(*serverAddr, "/elevated/approve/"+args[0], map[string]any{"grant_scope_ttl": scopeTTL})
		},
	}
	cmd.Flags().DurationVar(&scopeTTL, "grant-scope-ttl", 0, "also grant a scope approval covering this parent process for the given duration")
	return cmd
}

func buildElevateDenyCmd(serverAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "deny <id>",
		Short: "Deny a pending elevation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return elevatePOST(*serverAddr, "/elevated/deny/"+args[0], nil)
		},
	}
}

func elevateGET(serverAddr, path string) error {
	resp, err := http.Get(serverAddr + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printElevateResponse(resp)
}

func elevatePOST(serverAddr, path string, body map[string]any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	resp, err := http.Post(serverAddr+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printElevateResponse(resp)
}

func printElevateResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(data))
	}
	fmt.Println(string(data))
	return nil
}
