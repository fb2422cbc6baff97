package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"cloudy/internal/model"

	"github.com/spf13/cobra"
)

var historyN int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recent transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("%s?n=%d", statusURL("/history"), historyN)
		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("cloudy not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("history unavailable: %s", body)
		}

		var histories []model.History
		if err := json.NewDecoder(resp.Body).Decode(&histories); err != nil {
			return err
		}

		if len(histories) == 0 {
			fmt.Println("no history yet")
			return nil
		}

		for _, h := range histories {
			status := "✓"
			if h.Status == model.StatusFailed {
				status = "✗"
			}

			fmt.Printf("%s [%s] %-8s %s -> %s\n",
				status,
				h.SyncedAt.Format("2006-01-02 15:04:05"),
				h.EventKind,
				h.RelPath,
				h.Destination,
			)
			if h.ErrMsg != "" {
				fmt.Printf("    exit %d: %s\n", h.ExitCode, h.ErrMsg)
			}
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of history entries to show")
	rootCmd.AddCommand(historyCmd)
}
