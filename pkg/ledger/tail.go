package ledger

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	// tailWindow is how far back from EOF a tail read looks.
	tailWindow = 64 << 10

	maxLineBytes    = 1 << 20
	maxPayloadBytes = 1 << 20
)

// readTailLines returns up to n trailing lines of the file at path.
//
// Only the last tailWindow bytes are read, so the cost does not grow with the
// log. Any error (missing file, file truncated under us) yields nil.
func readTailLines(path string, n int) []string {
	if n <= 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		return nil
	}

	r := bufio.NewReader(io.LimitReader(f, tailWindow))
	if st.Size() > tailWindow {
		if _, err := f.Seek(st.Size()-tailWindow, io.SeekStart); err != nil {
			return nil
		}
		// The first line of a mid-file window is cut in half.
		if _, err := r.ReadString('\n'); err != nil {
			return nil
		}
	}

	lines, err := tailLines(r, n)
	if err != nil {
		return nil
	}
	return lines
}

// tailLines keeps the last n lines of r in a ring.
func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	buf := make([]string, 0, n)

	for scanner.Scan() {
		line := scanner.Text()
		if len(buf) < n {
			buf = append(buf, line)
			continue
		}
		copy(buf, buf[1:])
		buf[n-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

// lastSegment returns the text a terminal would show for a line containing
// carriage-return redraws.
func lastSegment(line string) string {
	line = strings.TrimRight(line, "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	return strings.TrimSpace(line)
}

// lastNonEmptyLine returns the final visible line in lines.
func lastNonEmptyLine(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if s := lastSegment(lines[i]); s != "" {
			return s
		}
	}
	return ""
}

// readPayload reads a small metadata file. Errors yield "".
func readPayload(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()
	b, err := io.ReadAll(io.LimitReader(f, maxPayloadBytes))
	if err != nil {
		return ""
	}
	return string(b)
}
