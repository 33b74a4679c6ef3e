package ledger

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Reader reconstructs the read-model of a single job directory.
//
// Every optional file is read best-effort: missing, truncated, or half-written
// content degrades to an empty value. Only the job directory itself decides
// whether a read succeeds.
type Reader struct {
	layout Layout
	opts   Options
	log    *zap.Logger
}

func NewReader(opts Options) *Reader {
	opts = opts.withDefaults()
	return &Reader{layout: NewLayout(opts.Root), opts: opts, log: opts.Logger}
}

// Read summarizes namespace/jobID. It returns an error matching ErrJobNotFound
// or ErrNotAJob when the directory is absent or lacks the launch script.
func (r *Reader) Read(namespace, jobID string) (*JobSummary, error) {
	dir, err := r.layout.resolveJobDir(namespace, jobID)
	if err != nil {
		return nil, err
	}
	return r.readDir(namespace, jobID, dir)
}

// ReadDir summarizes the job at dir, taking the namespace from its parent.
func (r *Reader) ReadDir(dir string) (*JobSummary, error) {
	dir = filepath.Clean(dir)
	return r.readDir(filepath.Base(filepath.Dir(dir)), filepath.Base(dir), dir)
}

func (r *Reader) readDir(namespace, jobID, dir string) (*JobSummary, error) {
	st, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &OpError{Op: "read", Namespace: namespace, JobID: jobID, Err: ErrJobNotFound}
		}
		r.log.Debug("Job directory unreadable", zap.String("dir", dir), zap.Error(err))
		return nil, &OpError{Op: "read", Namespace: namespace, JobID: jobID, Err: err}
	}
	if !st.IsDir() {
		return nil, &OpError{Op: "read", Namespace: namespace, JobID: jobID, Err: ErrNotAJob}
	}

	markers := ProbeMarkers(dir)
	if !markers.LaunchScript {
		return nil, &OpError{Op: "read", Namespace: namespace, JobID: jobID, Err: ErrNotAJob}
	}

	s := &JobSummary{
		ID:                 jobID,
		Namespace:          namespace,
		DisplayName:        DisplayName(jobID),
		State:              ResolveState(markers),
		Markers:            markers,
		Hidden:             markers.Hide,
		DeleteWhenFinished: markers.DeleteWhenFinished,
		LastModified:       st.ModTime(),
		Dir:                dir,
	}

	s.Headline = truncate(ParseHeadline(readPayload(filepath.Join(dir, string(MarkerLaunchScript)))), r.opts.HeadlineMax)

	scan := logSummaryLines
	if progressScanLines > scan {
		scan = progressScanLines
	}
	tail := readTailLines(filepath.Join(dir, stdoutFile), scan)

	s.Notes = strings.TrimSpace(readPayload(filepath.Join(dir, notesFile)))
	if s.Notes != "" {
		s.Subtitle = truncate(s.Notes, r.opts.HeadlineMax)
	} else {
		s.Subtitle = truncate(lastNonEmptyLine(tail), r.opts.HeadlineMax)
	}

	s.LogSummary = logSummary(dir, tail)
	s.Progress = ParseProgress(tail)
	s.Metrics = readMetrics(filepath.Join(dir, summaryMetricsFile))
	s.LatestImage = latestImage(dir, r.opts.ImageExtensions)

	s.CreatedAt = readCreatedAt(dir, st.ModTime())
	if markers.Started {
		s.StartedAt = markerTime(dir, MarkerStarted)
	}
	if markers.Finished {
		s.FinishedAt = markerTime(dir, MarkerFinished)
	}

	return s, nil
}

// Tail returns the last n lines of the job's captured stdout.
func (r *Reader) Tail(namespace, jobID string, n int) ([]string, error) {
	dir, err := r.validJobDir(namespace, jobID)
	if err != nil {
		return nil, err
	}
	return readTailLines(filepath.Join(dir, stdoutFile), n), nil
}

// StdoutPath returns the path of the job's captured stdout.
func (r *Reader) StdoutPath(namespace, jobID string) (string, error) {
	dir, err := r.validJobDir(namespace, jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stdoutFile), nil
}

// Files lists the job directory.
func (r *Reader) Files(namespace, jobID string) ([]FileEntry, error) {
	dir, err := r.validJobDir(namespace, jobID)
	if err != nil {
		return nil, err
	}
	files, err := listFiles(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &OpError{Op: "files", Namespace: namespace, JobID: jobID, Err: ErrJobNotFound}
		}
		return nil, &OpError{Op: "files", Namespace: namespace, JobID: jobID, Err: err}
	}
	return files, nil
}

// ImageGroups returns the job's image artifacts grouped by filename prefix.
func (r *Reader) ImageGroups(namespace, jobID string) ([]ImageGroup, error) {
	dir, err := r.validJobDir(namespace, jobID)
	if err != nil {
		return nil, err
	}
	return groupImages(findImages(dir, r.opts.ImageExtensions)), nil
}

func (r *Reader) validJobDir(namespace, jobID string) (string, error) {
	dir, err := r.layout.resolveJobDir(namespace, jobID)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return "", &OpError{Op: "read", Namespace: namespace, JobID: jobID, Err: ErrJobNotFound}
	}
	if !markerPresent(dir, MarkerLaunchScript) {
		return "", &OpError{Op: "read", Namespace: namespace, JobID: jobID, Err: ErrNotAJob}
	}
	return dir, nil
}

func logSummary(dir string, stdoutTail []string) string {
	if s := strings.TrimSpace(readPayload(filepath.Join(dir, summaryLogFile))); s != "" {
		return s
	}
	lines := stdoutTail
	if len(lines) > logSummaryLines {
		lines = lines[len(lines)-logSummaryLines:]
	}
	cleaned := make([]string, 0, len(lines))
	for _, l := range lines {
		cleaned = append(cleaned, lastSegment(l))
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func readMetrics(path string) map[string]any {
	raw := strings.TrimSpace(readPayload(path))
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func readCreatedAt(dir string, fallback time.Time) time.Time {
	raw := strings.TrimSpace(readPayload(filepath.Join(dir, createdAtFile)))
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fallback
	}
	return t
}

func markerTime(dir string, m Marker) *time.Time {
	st, err := os.Lstat(filepath.Join(dir, string(m)))
	if err != nil {
		return nil
	}
	t := st.ModTime()
	return &t
}

var idSuffixPattern = regexp.MustCompile(`_[0-9a-f]{8}$`)

// DisplayName turns "image_classifier_1a2b3c4d" into "Image Classifier".
func DisplayName(jobID string) string {
	name := idSuffixPattern.ReplaceAllString(jobID, "")
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return jobID
	}
	return cases.Title(language.English).String(name)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
