package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

var sitesTag string

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List searchable sites",
	Long: `List the sites known to the server.

Examples:
  maigretctl sites
  maigretctl sites --tag coding`,
	Args: cobra.NoArgs,
	RunE: runSites,
}

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List site tags usable with 'search --tags'",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, err := apiClient.Tags(context.Background())
		if err != nil {
			return fmt.Errorf("list tags: %w", err)
		}
		for _, t := range tags {
			fmt.Println(t)
		}
		return nil
	},
}

func init() {
	sitesCmd.Flags().StringVar(&sitesTag, "tag", "", "only list sites with this tag")
}

func runSites(cmd *cobra.Command, args []string) error {
	sites, err := apiClient.Sites(context.Background())
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}

	fmt.Printf("%-15s %-30s %s\n", "NAME", "URL", "TAGS")
	fmt.Println(strings.Repeat("-", 72))
	shown := 0
	for _, s := range sites.Sites {
		if sitesTag != "" && !slices.Contains(s.Tags, sitesTag) {
			continue
		}
		fmt.Printf("%-15s %-30s %s\n", s.Name, s.URLMain, strings.Join(s.Tags, ", "))
		shown++
	}
	fmt.Printf("\n%d of %d sites\n", shown, sites.Total)
	return nil
}
