package ledger

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Marker is a sentinel file whose presence, not content, signals a lifecycle fact.
//
// NOTE: These names are the on-disk contract shared with the launcher and the
// worker. This file is the only place literal filenames appear.
type Marker string

const (
	MarkerLaunchScript       Marker = "launch.sh"
	MarkerLock               Marker = "worker_lockfile"
	MarkerStarted            Marker = "worker_started"
	MarkerFinished           Marker = "worker_finished"
	MarkerError              Marker = "worker_error"
	MarkerAbort              Marker = "worker_abort"
	MarkerHide               Marker = "hide"
	MarkerDeleteWhenFinished Marker = "delete_when_finished"
)

// Payload files. Unlike markers, their content is read.
const (
	notesFile          = "notes.txt"
	stdoutFile         = "stdout.txt"
	summaryLogFile     = ".last_summary.log"
	summaryMetricsFile = ".last_summary.json"
	createdAtFile      = ".created_at"
	requirementsFile   = "requirements.txt"
)

// reservedNames are the job-root names owned by the ledger and the worker. A
// source snapshot must not supply them.
var reservedNames = []string{
	string(MarkerLaunchScript),
	string(MarkerLock),
	string(MarkerStarted),
	string(MarkerFinished),
	string(MarkerError),
	string(MarkerAbort),
	string(MarkerHide),
	string(MarkerDeleteWhenFinished),
	notesFile,
	stdoutFile,
	summaryLogFile,
	summaryMetricsFile,
	createdAtFile,
}

// DefaultNamespace always exists; readers create it on demand.
const DefaultNamespace = "default"

// Markers records which sentinel files were present when a job was probed.
type Markers struct {
	LaunchScript       bool `json:"launch_script"`
	Lock               bool `json:"lockfile"`
	Started            bool `json:"started"`
	Finished           bool `json:"finished"`
	Error              bool `json:"error"`
	Abort              bool `json:"abort"`
	Hide               bool `json:"hide"`
	DeleteWhenFinished bool `json:"delete_when_finished"`
}

// Has reports whether m was present.
func (ms Markers) Has(m Marker) bool {
	switch m {
	case MarkerLaunchScript:
		return ms.LaunchScript
	case MarkerLock:
		return ms.Lock
	case MarkerStarted:
		return ms.Started
	case MarkerFinished:
		return ms.Finished
	case MarkerError:
		return ms.Error
	case MarkerAbort:
		return ms.Abort
	case MarkerHide:
		return ms.Hide
	case MarkerDeleteWhenFinished:
		return ms.DeleteWhenFinished
	default:
		return false
	}
}

// ProbeMarkers stats every marker in dir. One Lstat per marker; content is never read.
func ProbeMarkers(dir string) Markers {
	return Markers{
		LaunchScript:       markerPresent(dir, MarkerLaunchScript),
		Lock:               markerPresent(dir, MarkerLock),
		Started:            markerPresent(dir, MarkerStarted),
		Finished:           markerPresent(dir, MarkerFinished),
		Error:              markerPresent(dir, MarkerError),
		Abort:              markerPresent(dir, MarkerAbort),
		Hide:               markerPresent(dir, MarkerHide),
		DeleteWhenFinished: markerPresent(dir, MarkerDeleteWhenFinished),
	}
}

func markerPresent(dir string, m Marker) bool {
	_, err := os.Lstat(filepath.Join(dir, string(m)))
	return err == nil
}

// writeMarker creates (or touches) a marker file. The content is informational only.
func writeMarker(dir string, m Marker) error {
	return os.WriteFile(filepath.Join(dir, string(m)), []byte("OK"), 0644)
}

func removeMarker(dir string, m Marker) error {
	err := os.Remove(filepath.Join(dir, string(m)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Layout resolves ledger paths under an experiments root.
type Layout struct {
	root string
}

func NewLayout(root string) Layout {
	return Layout{root: filepath.Clean(strings.TrimSpace(root))}
}

func (l Layout) Root() string {
	return l.root
}

func (l Layout) NamespaceDir(namespace string) string {
	return filepath.Join(l.root, namespace)
}

func (l Layout) JobDir(namespace, jobID string) string {
	return filepath.Join(l.root, namespace, jobID)
}

// ValidateName rejects namespace and job id values that could escape their
// parent directory or collide with hidden entries.
func ValidateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return &OpError{Op: "validate", Err: ErrInvalidName, Detail: kind + " is empty"}
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return &OpError{Op: "validate", Err: ErrInvalidName, Detail: kind + " " + name}
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return &OpError{Op: "validate", Err: ErrInvalidName, Detail: kind + " contains a path separator"}
	}
	return nil
}

// resolveJobDir validates names and returns the job directory.
func (l Layout) resolveJobDir(namespace, jobID string) (string, error) {
	if err := ValidateName("namespace", namespace); err != nil {
		return "", err
	}
	if err := ValidateName("job id", jobID); err != nil {
		return "", err
	}
	return l.JobDir(namespace, jobID), nil
}

// ensureWithinRoot verifies that path is a strict descendant of the root once
// symlinks are resolved. A path that does not exist yet is checked through
// its parent.
func (l Layout) ensureWithinRoot(path string) error {
	root, err := filepath.EvalSymlinks(l.root)
	if err != nil {
		return err
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		parent, perr := filepath.EvalSymlinks(filepath.Dir(path))
		if perr != nil {
			return perr
		}
		resolved = filepath.Join(parent, filepath.Base(path))
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return &OpError{Op: "resolve", Err: ErrOutsideRoot, Detail: path}
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return &OpError{Op: "resolve", Err: ErrOutsideRoot, Detail: path}
	}
	return nil
}

// isListable reports whether a directory entry can be a namespace or a job.
func isListable(entry fs.DirEntry) bool {
	return entry.IsDir() && !strings.HasPrefix(entry.Name(), ".")
}
