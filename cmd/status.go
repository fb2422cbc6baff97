package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloudy/internal/model"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View the running watcher's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(statusURL("/status"))
		if err != nil {
			return fmt.Errorf("cloudy not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var snap model.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		lastSync := "-"
		if snap.LastSync != nil {
			lastSync = snap.LastSync.Format("2006-01-02 15:04:05")
		}

		fmt.Printf("%-10s %-30s %-30s %-8s %-8s %-8s %s\n",
			"STATE", "ROOT", "TARGET", "SYNCED", "FAILED", "ACTIVE", "LAST SYNC")
		fmt.Printf("%-10s %-30s %-30s %-8d %-8d %-8d %s\n",
			snap.State, snap.Root, snap.Target, snap.Synced, snap.Failed, snap.InFlight, lastSync)
		fmt.Printf("uptime: %s  dispatched: %d  dropped: %d\n",
			time.Since(snap.StartedAt).Round(time.Second), snap.Dispatched, snap.Dropped)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
