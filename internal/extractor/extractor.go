// Package extractor infers structured search progress from the free-text
// output of the search tool.
//
// Everything here is pure: Reduce takes the previous State and one output
// line and returns the next State. The job runner only depends on the
// LineParser interface, so a structured output mode of the tool can replace
// the text scraping without touching the runner or the store.
package extractor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxCounterPercent is the highest percentage the extractor reports.
// 100 is reserved for a completed session.
const MaxCounterPercent = 95

// ActivityAfter is how long a job may run without any site label before a
// generic activity label is shown.
const ActivityAfter = 3 * time.Second

// ActivityLabel is shown when the tool has been quiet about sites.
const ActivityLabel = "Searching sites..."

// State is the per-job scratch state carried from line to line.
type State struct {
	TotalSites   int
	SitesChecked int
	ResultsFound int
	CurrentSite  string
	// Percent is the highest percentage emitted so far.
	Percent int
	Started time.Time

	counter   bool // counter-based progress seen
	synthetic bool // CurrentSite was made up, not parsed
}

// HasCounter reports whether any checked/total counter has been parsed.
func (s State) HasCounter() bool {
	return s.counter
}

// Signals describe what a single line changed.
type Signals struct {
	TotalDiscovered bool
	Checked         bool
	Found           bool
	SiteChanged     bool
	PercentChanged  bool
}

// Any reports whether the line changed anything.
func (g Signals) Any() bool {
	return g.TotalDiscovered || g.Checked || g.Found || g.SiteChanged || g.PercentChanged
}

// Reduce applies one raw output line to s.
func Reduce(s State, line string, now time.Time) (State, Signals) {
	var sig Signals
	line = strings.TrimSpace(line)

	if line != "" {
		lower := strings.ToLower(line)

		if s.TotalSites == 0 && announcesTotal(lower) {
			if m := totalRe.FindStringSubmatch(line); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
					s.TotalSites = n
					sig.TotalDiscovered = true
				}
			}
		}

		matched := applyCounter(&s, line, &sig)
		if !matched {
			applyBar(&s, line, &sig)
		}

		applySite(&s, line, &sig)

		if isFound(line) {
			s.ResultsFound++
			sig.Found = true
		}
	}

	if s.CurrentSite == "" && !s.Started.IsZero() && now.Sub(s.Started) > ActivityAfter {
		s.CurrentSite = ActivityLabel
		s.synthetic = true
		sig.SiteChanged = true
	}

	return s, sig
}

func applyCounter(s *State, line string, sig *Signals) bool {
	for _, re := range counterRes {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		checked, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || total <= 0 {
			continue
		}
		if s.TotalSites == 0 {
			s.TotalSites = total
			sig.TotalDiscovered = true
		}
		if checked > s.TotalSites {
			checked = s.TotalSites
		}
		if checked != s.SitesChecked {
			s.SitesChecked = checked
			sig.Checked = true
		}
		s.counter = true
		ratchet(s, counterPercent(checked, s.TotalSites), sig)
		return true
	}

	for _, re := range percentRes {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct > 100 {
			continue
		}
		if s.TotalSites > 0 {
			checked := s.TotalSites * pct / 100
			if checked > s.SitesChecked {
				s.SitesChecked = checked
				sig.Checked = true
			}
			s.counter = true
		}
		ratchet(s, min(MaxCounterPercent, pct), sig)
		return true
	}
	return false
}

func applyBar(s *State, line string, sig *Signals) {
	m := barRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	ratio, ok := barRatio(m[1])
	if !ok {
		return
	}
	ratchet(s, min(MaxCounterPercent, int(ratio*100)), sig)
}

func applySite(s *State, line string, sig *Signals) {
	for _, re := range siteRes {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, ok := cleanSiteName(m[1])
		if !ok {
			continue
		}
		if name != s.CurrentSite || s.synthetic {
			s.CurrentSite = name
			s.synthetic = false
			sig.SiteChanged = true
		}
		return
	}

	if s.SitesChecked > 0 && (s.CurrentSite == "" || s.synthetic) {
		label := fmt.Sprintf("Site %d", s.SitesChecked)
		if label != s.CurrentSite {
			s.CurrentSite = label
			s.synthetic = true
			sig.SiteChanged = true
		}
	}
}

func isFound(line string) bool {
	if notFoundRe.MatchString(line) {
		return false
	}
	for _, re := range foundRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func counterPercent(checked, total int) int {
	if total <= 0 {
		return 0
	}
	return min(MaxCounterPercent, checked*100/total)
}

func ratchet(s *State, pct int, sig *Signals) {
	if pct > s.Percent {
		s.Percent = pct
		sig.PercentChanged = true
	}
}

// LineParser turns output lines into progress state.
type LineParser interface {
	Feed(line string, now time.Time) (State, Signals)
	State() State
}

// Parser is the LineParser for the tool's human-readable output.
type Parser struct {
	state State
}

// New returns a Parser for a job started at started.
func New(started time.Time) *Parser {
	return &Parser{state: State{Started: started}}
}

// Feed applies one line and returns the new state.
func (p *Parser) Feed(line string, now time.Time) (State, Signals) {
	var sig Signals
	p.state, sig = Reduce(p.state, line, now)
	return p.state, sig
}

// State returns the current state.
func (p *Parser) State() State {
	return p.state
}
