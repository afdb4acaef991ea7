package models

import "time"

// Patch lists the fields to overwrite on a stored session.
// Nil fields are left untouched.
type Patch struct {
	Status       *Status
	Progress     *int
	CurrentSite  *string
	SitesChecked *int
	TotalSites   *int
	ResultsFound *int
	Error        *string
	Results      *[]SubjectResult
	CompletedAt  *time.Time
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Apply overwrites the supplied fields on s and returns the result.
// It does not validate transitions; the store does.
func (p Patch) Apply(s Session) Session {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Progress != nil {
		s.Progress = *p.Progress
	}
	if p.CurrentSite != nil {
		s.CurrentSite = *p.CurrentSite
	}
	if p.SitesChecked != nil {
		s.SitesChecked = *p.SitesChecked
	}
	if p.TotalSites != nil {
		s.TotalSites = *p.TotalSites
	}
	if p.ResultsFound != nil {
		s.ResultsFound = *p.ResultsFound
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
	if p.Results != nil {
		s.Results = cloneResults(*p.Results)
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		s.CompletedAt = &t
	}
	return s
}
