package extractor

import (
	"strings"
	"unicode"

	regexp "github.com/wasilibs/go-re2"
)

// barGlyphs are the runes a text progress bar is drawn with.
const barGlyphs = `█▉▊▋▌▍▎▏░▒▓=#>\s.\-`

var (
	// totalRe finds "<n> sites" in an announcement line.
	totalRe = regexp.MustCompile(`(?i)(\d+)\s+sites?\b`)

	// totalVerbs announce the scope of a search.
	totalVerbs = []string{"searching", "found", "checking", "loaded", "scanning", "using"}

	// counterRes match checked/total counters. Group 1 is checked, group 2 total.
	counterRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)searching\s*\|[^|]*\|\s*(\d+)\s*/\s*(\d+)`),
		regexp.MustCompile(`\|\s*(\d+)/(\d+)\s*\[`),
		regexp.MustCompile(`(\d+)/(\d+)\s*\[[` + barGlyphs + `]*\]`),
		regexp.MustCompile(`(?i)progress:\s*(\d+)\s*/\s*(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s*/\s*(\d+)\s+sites?\b`),
	}

	// percentRes match a bare percentage such as "[ 45%]" or "45%|".
	percentRes = []*regexp.Regexp{
		regexp.MustCompile(`\[\s*(\d{1,3})(?:\.\d+)?\s*%\s*\]`),
		regexp.MustCompile(`(\d{1,3})(?:\.\d+)?%\s*\|`),
	}

	// barRe captures the inside of a glyph progress bar.
	barRe = regexp.MustCompile(`[|\[]([` + barGlyphs + `]{4,})[|\]]`)

	// siteRes match the name of the site currently being checked.
	siteRes = []*regexp.Regexp{
		regexp.MustCompile(`(?:Checking|Searching|Testing)\s+([^\s|:\[\]]+)`),
		regexp.MustCompile(`\[([^\]]+)\]\s+(?:Checking|Searching|Testing)`),
	}

	// foundRes match a positive finding. One line counts once.
	foundRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bfound!`),
		regexp.MustCompile(`(?i)\bclaimed\b`),
		regexp.MustCompile(`✓`),
		regexp.MustCompile(`(?i)\[found\]`),
		regexp.MustCompile(`(?i)\[claimed\]`),
		regexp.MustCompile(`(?i)\bsuccess\b`),
		regexp.MustCompile(`^\[\+\]`),
	}

	notFoundRe = regexp.MustCompile(`(?i)\bnot\s+found\b`)
)

// siteStopwords are tokens that follow a verb but never name a site.
var siteStopwords = map[string]bool{
	"username":  true,
	"usernames": true,
	"for":       true,
	"on":        true,
	"the":       true,
	"sites":     true,
	"site":      true,
}

func announcesTotal(lower string) bool {
	if !strings.Contains(lower, "site") {
		return false
	}
	for _, verb := range totalVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// cleanSiteName trims decoration and rejects names that are clearly not sites.
func cleanSiteName(name string) (string, bool) {
	name = strings.TrimRight(strings.TrimSpace(name), ".,;!…")
	if name == "" || siteStopwords[strings.ToLower(name)] {
		return "", false
	}
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	return name, hasLetter
}

// barRatio returns the filled fraction of a glyph bar, or false if the text
// has no bar glyphs at all.
func barRatio(bar string) (float64, bool) {
	var filled, total float64
	glyphs := 0
	for _, r := range bar {
		switch r {
		case '█', '▓', '=', '#', '>':
			filled++
			glyphs++
		case '▉', '▊', '▋', '▌', '▍', '▎', '▏':
			filled += 0.5
			glyphs++
		case '░', '▒':
			glyphs++
		}
		total++
	}
	if glyphs == 0 || total == 0 {
		return 0, false
	}
	return filled / total, true
}
