// Package models defines data structures for tracked search sessions.
package models

import (
	"slices"
	"time"
)

// Status represents the lifecycle state of a search session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
// Staying in the same non-terminal status is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPending || next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Default option values applied when a request leaves them unset.
const (
	DefaultTopSites       = 500
	DefaultTimeoutSeconds = 30
)

// Options holds the search configuration submitted with a session.
// JSON names match the web client.
type Options struct {
	TopSites               int      `json:"topSites" validate:"gte=0"`
	Timeout                int      `json:"timeout" validate:"gte=0,lte=3600"`
	AllSites               bool     `json:"allSites"`
	Tags                   []string `json:"tags,omitempty" validate:"dive,required,startsnotwith=-"`
	SiteList               []string `json:"siteList,omitempty" validate:"dive,required,startsnotwith=-"`
	DisableRecursiveSearch bool     `json:"disableRecursiveSearch"`
	DisableExtracting      bool     `json:"disableExtracting"`
	Proxy                  string   `json:"proxy,omitempty" validate:"omitempty,url"`
	TorProxy               string   `json:"torProxy,omitempty" validate:"omitempty,url"`
	I2PProxy               string   `json:"i2pProxy,omitempty" validate:"omitempty,url"`

	// Accepted for client compatibility, not passed to the tool.
	UseCookies  bool `json:"useCookies,omitempty"`
	WithDomains bool `json:"withDomains,omitempty"`
	Permute     bool `json:"permute,omitempty"`
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.TopSites <= 0 {
		o.TopSites = DefaultTopSites
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeoutSeconds
	}
	o.Tags = slices.Clone(o.Tags)
	o.SiteList = slices.Clone(o.SiteList)
	return o
}

// SearchRequest is the payload for submitting a new session.
type SearchRequest struct {
	Usernames []string `json:"usernames" validate:"required,min=1,dive,required,startsnotwith=-,excludesall=/\\"`
	Options   Options  `json:"options"`
}

// Site status vocabulary of a SiteResult.
const (
	SiteClaimed   = "Claimed"
	SiteUnclaimed = "Unclaimed"
	SiteUnknown   = "Unknown"
)

// SiteResult is one normalized per-site record for a subject.
type SiteResult struct {
	SiteName string         `json:"siteName"`
	URL      string         `json:"url"`
	Status   string         `json:"status"`
	Tags     []string       `json:"tags"`
	Metadata map[string]any `json:"metadata"`
	URLUser  string         `json:"urlUser,omitempty"`
}

// SubjectResult groups all site results found for one username.
type SubjectResult struct {
	Username string       `json:"username"`
	Sites    []SiteResult `json:"sites"`
}

// Session is the tracked state of one submitted search.
type Session struct {
	ID           string          `json:"id"`
	Usernames    []string        `json:"usernames"`
	Options      Options         `json:"options"`
	Status       Status          `json:"status"`
	Progress     int             `json:"progress"`
	CurrentSite  string          `json:"currentSite,omitempty"`
	SitesChecked int             `json:"sitesChecked"`
	TotalSites   int             `json:"totalSites"`
	ResultsFound int             `json:"resultsFound"`
	Error        string          `json:"error,omitempty"`
	Results      []SubjectResult `json:"results,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Clone returns a deep copy that shares no mutable state with s.
func (s Session) Clone() Session {
	c := s
	c.Usernames = slices.Clone(s.Usernames)
	c.Options.Tags = slices.Clone(s.Options.Tags)
	c.Options.SiteList = slices.Clone(s.Options.SiteList)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	c.Results = cloneResults(s.Results)
	return c
}

func cloneResults(in []SubjectResult) []SubjectResult {
	if in == nil {
		return nil
	}
	out := make([]SubjectResult, len(in))
	for i, r := range in {
		out[i] = SubjectResult{Username: r.Username, Sites: make([]SiteResult, len(r.Sites))}
		for j, site := range r.Sites {
			site.Tags = slices.Clone(site.Tags)
			if site.Metadata != nil {
				site.Metadata = cloneMap(site.Metadata)
			}
			out[i].Sites[j] = site
		}
	}
	return out
}

// cloneMap copies decoded JSON, descending into nested objects and arrays.
func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		if v == nil {
			return v
		}
		return cloneMap(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// StatusView is the point-in-time status returned by status queries.
type StatusView struct {
	SessionID    string  `json:"sessionId"`
	Status       Status  `json:"status"`
	Progress     int     `json:"progress"`
	CurrentSite  *string `json:"currentSite"`
	SitesChecked int     `json:"sitesChecked"`
	TotalSites   int     `json:"totalSites"`
	ResultsFound int     `json:"resultsFound"`
}

// View returns the status fields of s.
func (s Session) View() StatusView {
	v := StatusView{
		SessionID:    s.ID,
		Status:       s.Status,
		Progress:     s.Progress,
		SitesChecked: s.SitesChecked,
		TotalSites:   s.TotalSites,
		ResultsFound: s.ResultsFound,
	}
	if s.CurrentSite != "" {
		site := s.CurrentSite
		v.CurrentSite = &site
	}
	return v
}
