package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/gohat/pkg/ledger"
)

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatProgress(p ledger.Progress) string {
	if !p.Known {
		return "-"
	}
	s := strconv.FormatFloat(p.Percent, 'f', -1, 64) + "%"
	if p.ETA != "" {
		s += " eta " + p.ETA
	}
	return s
}

func formatMetric(v any) string {
	switch n := v.(type) {
	case float64:
		return humanize.FtoaWithDigits(n, 4)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}

// writeYAML renders v with its JSON field names.
func writeYAML(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}
