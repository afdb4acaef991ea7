package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List searches known to the server",
	Long: `List all searches, newest first.

Examples:
  maigretctl sessions`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	sessions, err := apiClient.Sessions(context.Background())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No searches found")
		return nil
	}

	fmt.Printf("%-36s %-10s %-8s %-19s %s\n", "ID", "STATUS", "PROGRESS", "CREATED", "USERNAMES")
	fmt.Println(strings.Repeat("-", 100))

	for _, s := range sessions {
		fmt.Printf("%-36s %-10s %7d%% %-19s %s\n",
			s.SessionID, s.Status, s.Progress, s.CreatedAt.Local().Format("2006-01-02 15:04:05"), strings.Join(s.Usernames, ","))
		if verbose && s.Error != "" {
			fmt.Printf("  error: %s\n", s.Error)
		}
	}
	return nil
}
