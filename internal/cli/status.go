package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/raphaelgruber/maigret-api/internal/client"
	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/spf13/cobra"
)

var (
	resultsJSON bool
	resultsAll  bool
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the status of a search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := apiClient.Status(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		printStatus(view)
		return nil
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results <session-id>",
	Short: "Show the results of a completed search",
	Long: `Show the per-site results of a completed search.

Examples:
  maigretctl results 3f0c...       # claimed accounts only
  maigretctl results 3f0c... --all # every checked site
  maigretctl results 3f0c... --json`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Stream live progress events of a search",
	Long: `Connect to the search's WebSocket stream and print every event until
the search completes or fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "print the full session as JSON")
	resultsCmd.Flags().BoolVar(&resultsAll, "all", false, "include unclaimed and unknown sites")
}

func runResults(cmd *cobra.Command, args []string) error {
	sess, err := apiClient.Results(context.Background(), args[0])
	if errors.Is(err, client.ErrNotReady) {
		return fmt.Errorf("search %s has not completed yet", args[0])
	}
	if err != nil {
		return fmt.Errorf("get results: %w", err)
	}

	if resultsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	}
	printResults(sess, resultsAll)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var final models.Event
	err := apiClient.Watch(ctx, args[0], func(ev models.Event) error {
		final = ev
		fmt.Println(formatEvent(ev))
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if final.Type == models.EventFailed {
		return fmt.Errorf("search failed: %s", final.Data.Error)
	}
	return nil
}
