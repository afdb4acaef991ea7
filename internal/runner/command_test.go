package runner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/maigret-api/internal/extractor"
	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name      string
		opts      models.Options
		usernames []string
		want      []string
	}{
		{
			name:      "defaults",
			usernames: []string{"alice"},
			want:      []string{"--timeout", "30", "--top-sites", "500", "--verbose", "--json", "simple", "alice"},
		},
		{
			name:      "all sites ignores top sites",
			opts:      models.Options{AllSites: true, TopSites: 10, Timeout: 5},
			usernames: []string{"alice", "bob"},
			want:      []string{"--timeout", "5", "--all-sites", "--verbose", "--json", "simple", "alice", "bob"},
		},
		{
			name: "every flag",
			opts: models.Options{
				TopSites:               50,
				Timeout:                10,
				Tags:                   []string{"coding", "social"},
				SiteList:               []string{"GitHub", "Reddit"},
				DisableRecursiveSearch: true,
				DisableExtracting:      true,
				Proxy:                  "http://proxy:8080",
				TorProxy:               "socks5://tor:9050",
				I2PProxy:               "http://i2p:4444",
				UseCookies:             true,
			},
			usernames: []string{"alice"},
			want: []string{
				"--timeout", "10", "--top-sites", "50",
				"--tags", "coding,social",
				"--site", "GitHub", "--site", "Reddit",
				"--no-recursion", "--no-extracting",
				"--proxy", "http://proxy:8080",
				"--tor-proxy", "socks5://tor:9050",
				"--i2p-proxy", "http://i2p:4444",
				"--verbose", "--json", "simple", "alice",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildArgs(tt.opts, tt.usernames))
		})
	}
}

func TestDeadline(t *testing.T) {
	assert.Equal(t, 60*time.Second, Deadline(30, 0))
	assert.Equal(t, 60*time.Second, Deadline(5, time.Minute), "floor applies")
	assert.Equal(t, 60*time.Second, Deadline(0, 0), "default timeout")
	assert.Equal(t, 2*time.Second, Deadline(1, 0))
}

func TestReportPath(t *testing.T) {
	assert.Equal(t, filepath.Join("reports", "report_alice_simple.json"), ReportPath("reports", "alice"))
}

func TestTimeEstimate(t *testing.T) {
	assert.Zero(t, TimeEstimate(0, time.Minute))
	assert.Equal(t, 50, TimeEstimate(30*time.Second, time.Minute))
	assert.Equal(t, MaxTimePercent, TimeEstimate(2*time.Minute, time.Minute))
	assert.Zero(t, TimeEstimate(time.Second, 0))
}

func TestProgress(t *testing.T) {
	withCounter, _ := extractor.Reduce(extractor.State{}, "Progress: 10/100", time.Time{})
	noCounter := extractor.State{}

	tests := []struct {
		name    string
		st      extractor.State
		elapsed time.Duration
		prev    int
		want    int
	}{
		{"time fills in without counter", noCounter, 30 * time.Second, 1, 50},
		{"counter wins over time", withCounter, 30 * time.Second, 1, 10},
		{"never below previous", withCounter, 0, 40, 40},
		{"capped while running", noCounter, 0, 99, MaxRunningPercent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Progress(tt.st, tt.elapsed, time.Minute, tt.prev))
		})
	}
}
