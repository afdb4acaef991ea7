package runner

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/maigret-api/internal/models"
)

// BuildArgs maps search options to the tool's command-line flags, followed by the usernames.
func BuildArgs(opts models.Options, usernames []string) []string {
	opts = opts.WithDefaults()

	args := []string{"--timeout", strconv.Itoa(opts.Timeout)}
	if opts.AllSites {
		args = append(args, "--all-sites")
	} else {
		args = append(args, "--top-sites", strconv.Itoa(opts.TopSites))
	}
	if len(opts.Tags) > 0 {
		args = append(args, "--tags", strings.Join(opts.Tags, ","))
	}
	for _, site := range opts.SiteList {
		args = append(args, "--site", site)
	}
	if opts.DisableRecursiveSearch {
		args = append(args, "--no-recursion")
	}
	if opts.DisableExtracting {
		args = append(args, "--no-extracting")
	}
	if opts.Proxy != "" {
		args = append(args, "--proxy", opts.Proxy)
	}
	if opts.TorProxy != "" {
		args = append(args, "--tor-proxy", opts.TorProxy)
	}
	if opts.I2PProxy != "" {
		args = append(args, "--i2p-proxy", opts.I2PProxy)
	}

	args = append(args, "--verbose", "--json", "simple")
	return append(args, usernames...)
}

// Deadline is the hard wall-clock limit for one search: twice the
// per-site timeout, but never less than floor.
func Deadline(timeoutSeconds int, floor time.Duration) time.Duration {
	if timeoutSeconds <= 0 {
		timeoutSeconds = models.DefaultTimeoutSeconds
	}
	return max(2*time.Duration(timeoutSeconds)*time.Second, floor)
}

// ReportPath is where the tool writes the simple JSON report for username.
func ReportPath(dir, username string) string {
	return filepath.Join(dir, fmt.Sprintf("report_%s_simple.json", username))
}
