package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/maigret-api/internal/models"
)

func printStatus(v *models.StatusView) {
	fmt.Printf("Search: %s\n", v.SessionID)
	fmt.Printf("  Status: %s\n", v.Status)
	fmt.Printf("  Progress: %d%%\n", v.Progress)
	if v.TotalSites > 0 {
		fmt.Printf("  Sites: %d/%d\n", v.SitesChecked, v.TotalSites)
	}
	fmt.Printf("  Found: %d\n", v.ResultsFound)
	if v.CurrentSite != nil {
		fmt.Printf("  Current: %s\n", *v.CurrentSite)
	}
}

// formatEvent renders one push event as a single line.
func formatEvent(ev models.Event) string {
	d := ev.Data
	line := fmt.Sprintf("%s %-9s %3d%%", time.Now().Format("15:04:05"), ev.Type, d.Progress)
	if d.TotalSites > 0 {
		line += fmt.Sprintf("  %d/%d sites", d.SitesChecked, d.TotalSites)
	}
	if d.ResultsFound > 0 {
		line += fmt.Sprintf("  %d found", d.ResultsFound)
	}
	if d.CurrentSite != nil {
		line += "  " + *d.CurrentSite
	}
	if d.Error != "" {
		line += "  error: " + d.Error
	}
	return line
}

// printResults lists the sites per username. Unless all is set only
// claimed accounts are shown.
func printResults(sess *models.Session, all bool) {
	fmt.Printf("Search %s (%s)\n", sess.ID, sess.Status)
	if sess.CompletedAt != nil {
		fmt.Printf("Duration: %s\n", sess.CompletedAt.Sub(sess.CreatedAt).Round(time.Second))
	}

	for _, subject := range sess.Results {
		claimed := 0
		for _, site := range subject.Sites {
			if site.Status == models.SiteClaimed {
				claimed++
			}
		}
		fmt.Printf("\n%s: %d claimed of %d checked\n", subject.Username, claimed, len(subject.Sites))
		fmt.Println(strings.Repeat("-", 60))

		for _, site := range subject.Sites {
			if !all && site.Status != models.SiteClaimed {
				continue
			}
			url := site.URL
			if site.URLUser != "" {
				url = site.URLUser
			}
			fmt.Printf("  %-20s %-10s %s\n", site.SiteName, site.Status, url)
			if verbose && len(site.Tags) > 0 {
				fmt.Printf("  %-20s tags: %s\n", "", strings.Join(site.Tags, ", "))
			}
		}
	}
}
