package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := requestStop(statusURL("/stop"))
		if err != nil {
			return err
		}

		fmt.Printf("cloudy on port %d: %s\n", cfg.StatusPort, state)
		return nil
	},
}

// requestStop asks the watcher behind url to shut down and returns the state
// it reported.
func requestStop(url string) (string, error) {
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("cloudy not running: %w", err)
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	var reply struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("failed to decode stop response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stop refused (%d): %s", resp.StatusCode, reply.Error)
	}

	return reply.Status, nil
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
