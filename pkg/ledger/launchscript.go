package ledger

import (
	"fmt"
	"strings"
)

// The command runs under script(1) so interactive output (progress bars,
// colour) is captured as if attached to a terminal.
const (
	ptyWrapperPrefix = "script -q -c '"
	ptyWrapperSuffix = "' /dev/null"
)

// The wrapped payload stays on one line: quotes and line breaks leave the
// single-quoted string and come back through bash escapes.
var (
	payloadEncoder = strings.NewReplacer("'", `'\''`, "\n", `'$'\n''`, "\r", `'$'\r''`)
	payloadDecoder = strings.NewReplacer(`'\''`, "'", `'$'\n''`, "\n", `'$'\r''`, "\r")
)

// LaunchScript is the payload of the launch.sh marker.
type LaunchScript struct {
	// Command is the shell command line (see CommandLine).
	Command string

	// Subdir is the snapshot-relative directory to run from. Empty or "." runs
	// from the job directory.
	Subdir string
}

// Render produces the script text. The wrapped command is always the last line.
func (s LaunchScript) Render() string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "if [ -f %s ]; then\n", requirementsFile)
	fmt.Fprintf(&b, "  pip install -r %s\n", requirementsFile)
	b.WriteString("fi\n")
	if sub := strings.TrimSpace(s.Subdir); sub != "" && sub != "." {
		fmt.Fprintf(&b, "cd %s\n", shellQuote(sub))
	}
	b.WriteString(ptyWrapperPrefix)
	b.WriteString(payloadEncoder.Replace(s.Command))
	b.WriteString(ptyWrapperSuffix)
	b.WriteString("\n")
	return b.String()
}

// ParseHeadline recovers the command line from launch script text.
//
// It tolerates scripts written by other launchers: if the last line is not
// wrapped, it is returned as is.
func ParseHeadline(script string) string {
	lines := strings.Split(script, "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			last = s
			break
		}
	}
	if strings.HasPrefix(last, ptyWrapperPrefix) && strings.HasSuffix(last, ptyWrapperSuffix) {
		last = strings.TrimSuffix(strings.TrimPrefix(last, ptyWrapperPrefix), ptyWrapperSuffix)
		last = payloadDecoder.Replace(last)
	}
	return last
}

// CommandLine joins argv into a single shell command line, quoting only the
// arguments that need it.
func CommandLine(argv []string) string {
	parts := make([]string, 0, len(argv))
	for _, a := range argv {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:,+@%", r)
}
