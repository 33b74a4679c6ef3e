package ledger

import (
	"regexp"
	"strconv"
	"strings"
)

// progressScanLines is how many trailing stdout lines are searched for a progress bar.
const progressScanLines = 20

var (
	percentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s?%`)

	// tqdm: "[00:10<00:12, 44.5it/s]"; keras and friends: "ETA: 0:01:12" or "eta 12s".
	etaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<\s*(\d+:\d{2}(?::\d{2})?|\?)`),
		regexp.MustCompile(`(?i)\beta[:=]?\s*(\d[\w:.]*)`),
	}
)

// ParseProgress extracts a completion estimate from captured output lines.
//
// The most recent line segment that contains a percentage wins. Anything that
// does not parse yields a zero Progress.
func ParseProgress(lines []string) Progress {
	for i := len(lines) - 1; i >= 0; i-- {
		segments := strings.Split(lines[i], "\r")
		for j := len(segments) - 1; j >= 0; j-- {
			if p, ok := parseProgressSegment(segments[j]); ok {
				return p
			}
		}
	}
	return Progress{}
}

func parseProgressSegment(s string) (Progress, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Progress{}, false
	}
	m := percentPattern.FindAllStringSubmatch(s, -1)
	if len(m) == 0 {
		return Progress{}, false
	}
	// Bars usually lead with the percentage; take the first one.
	pct, err := strconv.ParseFloat(m[0][1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return Progress{}, false
	}

	p := Progress{Known: true, Percent: pct}
	for _, re := range etaPatterns {
		if em := re.FindStringSubmatch(s); len(em) == 2 && em[1] != "?" {
			p.ETA = em[1]
			break
		}
	}
	return p, true
}
