package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"
)

// Normalized status labels.
const (
	StatusClaimed   = models.SiteClaimed
	StatusUnclaimed = models.SiteUnclaimed
	StatusUnknown   = models.SiteUnknown
)

// reportSchema describes the simple report: an object keyed by site name.
// Entries that are not objects are skipped during normalization.
const reportSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "properties": {
      "status": {"type": ["object", "string"]},
      "url_main": {"type": "string"},
      "url_user": {"type": "string"},
      "tags": {"type": "array", "items": {"type": "string"}},
      "metadata": {"type": "object"}
    }
  }
}`

var compiledReportSchema = mustCompileSchema(reportSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("report.json", strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("add report schema: %v", err))
	}
	schema, err := compiler.Compile("report.json")
	if err != nil {
		panic(fmt.Sprintf("compile report schema: %v", err))
	}
	return schema
}

// rawSite is one entry of a simple report.
type rawSite struct {
	Status   json.RawMessage `json:"status"`
	URLMain  string          `json:"url_main"`
	URLUser  string          `json:"url_user"`
	Tags     []string        `json:"tags"`
	Metadata map[string]any  `json:"metadata"`
}

// LoadResults reads the report of every username from dir, concurrently.
// A missing report yields an empty site list for that username.
// Results keep the order of usernames.
func LoadResults(ctx context.Context, dir string, usernames []string, logger *slog.Logger) ([]models.SubjectResult, error) {
	results := make([]models.SubjectResult, len(usernames))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, username := range usernames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sites, err := loadReport(ReportPath(dir, username), username, logger)
			if err != nil {
				return err
			}
			results[i] = models.SubjectResult{Username: username, Sites: sites}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func loadReport(path, username string, logger *slog.Logger) ([]models.SiteResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("report not found, treating as no results", "username", username, "path", path)
		return []models.SiteResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read report for %q: %w", username, err)
	}

	sites, err := ParseReport(data)
	if err != nil {
		return nil, &ArtifactError{Subject: username, Path: path, Err: err}
	}
	logger.Debug("loaded report", "username", username, "sites", len(sites))
	return sites, nil
}

// ParseReport validates and normalizes one simple report.
// Sites are returned sorted by name.
func ParseReport(data []byte) ([]models.SiteResult, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := compiledReportSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("unexpected report shape: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	sites := make([]models.SiteResult, 0, len(entries))
	for name, raw := range entries {
		var site rawSite
		// non-object entries are not site records
		if err := json.Unmarshal(raw, &site); err != nil || len(site.Status) == 0 {
			continue
		}
		sites = append(sites, normalizeSite(name, site))
	}

	slices.SortFunc(sites, func(a, b models.SiteResult) int {
		return strings.Compare(a.SiteName, b.SiteName)
	})
	return sites, nil
}

func normalizeSite(name string, site rawSite) models.SiteResult {
	tags := site.Tags
	if tags == nil {
		tags = []string{}
	}
	metadata := site.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return models.SiteResult{
		SiteName: name,
		URL:      site.URLMain,
		Status:   NormalizeStatus(rawStatus(site.Status)),
		Tags:     tags,
		Metadata: metadata,
		URLUser:  site.URLUser,
	}
}

// rawStatus extracts the status label from either {"status": "..."} or a bare string.
func rawStatus(raw json.RawMessage) string {
	var nested struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		return nested.Status
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	return ""
}

// NormalizeStatus maps a raw tool status onto Claimed, Unclaimed or Unknown.
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "claimed", "found":
		return StatusClaimed
	case "unclaimed", "available", "not found":
		return StatusUnclaimed
	default:
		return StatusUnknown
	}
}
