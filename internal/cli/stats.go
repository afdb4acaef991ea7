package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/maigret-api/internal/client"
	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show session counts and in-memory runtime statistics of the server.

Examples:
  maigretctl stats`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("get server stats: %w", err)
		}
		printServerStats(stats)
		return nil
	},
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *client.Stats) {
	m := stats.Metrics
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", m.UptimeSeconds)
	fmt.Printf("Live observers: %d\n", stats.Observers)

	fmt.Printf("\nSessions:\n")
	for _, st := range []models.Status{models.StatusPending, models.StatusRunning, models.StatusCompleted, models.StatusFailed} {
		fmt.Printf("  %-10s %d\n", st, stats.Sessions[st])
	}

	fmt.Printf("\nSearches since restart:\n")
	fmt.Printf("  Started: %d, Completed: %d, Failed: %d (timed out: %d)\n",
		m.Searches.Started, m.Searches.Completed, m.Searches.Failed, m.Searches.TimedOut)

	if m.Search != nil {
		fmt.Printf("\nSearch runtime:\n")
		printOpStats(m.Search)
	}
	if m.ArtifactLoad != nil {
		fmt.Printf("\nResult loading:\n")
		printOpStats(m.ArtifactLoad)
	}
	if m.Persist != nil {
		fmt.Printf("\nSnapshot writes:\n")
		printOpStats(m.Persist)
	}
	if m.PersistErrors > 0 {
		fmt.Printf("  Write errors: %d\n", m.PersistErrors)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
