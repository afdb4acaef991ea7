package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/spf13/cobra"
)

var (
	searchTopSites      int
	searchTimeout       int
	searchAllSites      bool
	searchTags          []string
	searchSites         []string
	searchNoRecursion   bool
	searchNoExtracting  bool
	searchProxy         string
	searchTorProxy      string
	searchI2PProxy      string
	searchDetach        bool
	searchShowUnclaimed bool
)

var searchCmd = &cobra.Command{
	Use:   "search <username> [username...]",
	Short: "Search sites for one or more usernames",
	Long: `Submit a search and follow its progress until it finishes.

The progress bar polls the server every second. Press Ctrl+C to leave the
search running in the background, or pass --detach to return right after
submission.

Examples:
  maigretctl search alice
  maigretctl search alice bob --tags coding,social
  maigretctl search alice --site GitHub --site GitLab --timeout 10
  maigretctl search alice --all-sites --detach`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.IntVarP(&searchTopSites, "top-sites", "n", models.DefaultTopSites, "check the N most popular sites")
	f.IntVarP(&searchTimeout, "timeout", "t", models.DefaultTimeoutSeconds, "per-site timeout in seconds")
	f.BoolVarP(&searchAllSites, "all-sites", "a", false, "check every known site")
	f.StringSliceVar(&searchTags, "tags", nil, "only check sites with these tags")
	f.StringArrayVar(&searchSites, "site", nil, "only check this site (repeatable)")
	f.BoolVar(&searchNoRecursion, "no-recursion", false, "disable recursive search on extracted usernames")
	f.BoolVar(&searchNoExtracting, "no-extracting", false, "disable extraction of profile data")
	f.StringVar(&searchProxy, "proxy", "", "proxy URL")
	f.StringVar(&searchTorProxy, "tor-proxy", "", "Tor proxy URL")
	f.StringVar(&searchI2PProxy, "i2p-proxy", "", "I2P proxy URL")
	f.BoolVarP(&searchDetach, "detach", "d", false, "submit and return without waiting")
	f.BoolVar(&searchShowUnclaimed, "all", false, "also list unclaimed and unknown sites in the summary")
}

func buildSearchRequest(usernames []string) models.SearchRequest {
	return models.SearchRequest{
		Usernames: usernames,
		Options: models.Options{
			TopSites:               searchTopSites,
			Timeout:                searchTimeout,
			AllSites:               searchAllSites,
			Tags:                   searchTags,
			SiteList:               searchSites,
			DisableRecursiveSearch: searchNoRecursion,
			DisableExtracting:      searchNoExtracting,
			Proxy:                  searchProxy,
			TorProxy:               searchTorProxy,
			I2PProxy:               searchI2PProxy,
		},
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sess, err := apiClient.Submit(ctx, buildSearchRequest(args))
	if err != nil {
		return fmt.Errorf("submit search: %w", err)
	}
	logger.Debug("search submitted", "session_id", sess.ID)

	if searchDetach {
		fmt.Printf("Search %s started for %s\n", sess.ID, strings.Join(sess.Usernames, ", "))
		fmt.Printf("Use 'maigretctl status %s' to check progress.\n", sess.ID)
		return nil
	}

	finished, err := RunSearchProgress(apiClient, sess)
	if err != nil || !finished {
		return err
	}

	done, err := apiClient.Results(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("get results: %w", err)
	}
	fmt.Println()
	printResults(done, searchShowUnclaimed)
	return nil
}
