package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gohat/pkg/vcs"
)

// SourceMode selects what, if anything, is copied into a new job directory.
type SourceMode string

const (
	// SourceGit snapshots the git working copy containing WorkDir.
	SourceGit SourceMode = "git"

	// SourceNone runs the command from an otherwise empty job directory.
	SourceNone SourceMode = "none"
)

// SourceControl is the version-control collaborator used by Creator.
type SourceControl interface {
	// TopLevel returns the work tree root containing dir.
	TopLevel(ctx context.Context, dir string) (string, error)

	// Snapshot copies the current revision of src plus uncommitted changes into dest.
	Snapshot(ctx context.Context, src, dest string) (int, error)
}

// CreateRequest describes a job to launch.
type CreateRequest struct {
	Namespace string
	Source    SourceMode

	// WorkDir is the operator's working directory. Defaults to the process cwd.
	WorkDir string

	// Command is the argv to run. Required.
	Command []string

	Notes              string
	Hide               bool
	DeleteWhenFinished bool
}

// CreatedJob describes a successfully registered job.
type CreatedJob struct {
	Namespace   string    `json:"namespace"`
	ID          string    `json:"id"`
	Dir         string    `json:"dir"`
	Command     string    `json:"command"`
	Subdir      string    `json:"subdir,omitempty"`
	FilesCopied int       `json:"files_copied"`
	CreatedAt   time.Time `json:"created_at"`
}

// Creator materializes new job directories.
//
// A job is built in a hidden staging directory and published with a single
// rename, so a reader either sees a complete job or no job at all.
type Creator struct {
	layout    Layout
	opts      Options
	source    SourceControl
	newSuffix func() string
	now       func() time.Time
	log       *zap.Logger
}

func NewCreator(opts Options, source SourceControl) *Creator {
	opts = opts.withDefaults()
	if source == nil {
		source = vcs.NewGit(opts.Logger)
	}
	return &Creator{
		layout:    NewLayout(opts.Root),
		opts:      opts,
		source:    source,
		newSuffix: randomSuffix,
		now:       time.Now,
		log:       opts.Logger,
	}
}

// Create registers a new job and returns its identity.
func (c *Creator) Create(ctx context.Context, req CreateRequest) (*CreatedJob, error) {
	namespace := strings.TrimSpace(req.Namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := ValidateName("namespace", namespace); err != nil {
		return nil, err
	}
	if len(req.Command) == 0 || strings.TrimSpace(req.Command[0]) == "" {
		return nil, &OpError{Op: "create", Namespace: namespace, Err: ErrEmptyCommand}
	}
	if c.layout.Root() == "" || c.layout.Root() == "." {
		return nil, fmt.Errorf("experiments root is empty")
	}

	workDir := req.WorkDir
	if strings.TrimSpace(workDir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		workDir = wd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	mode := req.Source
	if mode == "" {
		mode = SourceGit
	}

	slug := filepath.Base(workDir)
	topLevel, subdir := "", ""
	switch mode {
	case SourceGit:
		topLevel, err = c.source.TopLevel(ctx, workDir)
		if err != nil {
			if errors.Is(err, vcs.ErrNotARepository) || errors.Is(err, vcs.ErrNoCommits) {
				return nil, &OpError{Op: "create", Namespace: namespace, Err: ErrNotVersionControlled, Detail: err.Error()}
			}
			return nil, fmt.Errorf("inspect source: %w", err)
		}
		subdir = relativeSubdir(topLevel, workDir)
		slug = filepath.Base(topLevel)
	case SourceNone:
	default:
		return nil, fmt.Errorf("unknown source mode %q", mode)
	}

	nsDir := c.layout.NamespaceDir(namespace)
	if err := os.MkdirAll(nsDir, 0755); err != nil {
		return nil, fmt.Errorf("create namespace dir: %w", err)
	}

	jobID, dir, err := c.allocate(nsDir, sanitizeSlug(slug))
	if err != nil {
		return nil, &OpError{Op: "create", Namespace: namespace, Err: err}
	}

	// The job is assembled in a dot-prefixed sibling that scans skip, then
	// renamed over the empty reserved directory.
	staging, err := os.MkdirTemp(nsDir, "."+jobID+".staging-")
	if err != nil {
		_ = os.Remove(dir)
		return nil, &OpError{Op: "create", Namespace: namespace, JobID: jobID, Err: fmt.Errorf("create staging dir: %w", err)}
	}
	if err := os.Chmod(staging, 0755); err != nil {
		_ = os.Remove(staging)
		_ = os.Remove(dir)
		return nil, &OpError{Op: "create", Namespace: namespace, JobID: jobID, Err: fmt.Errorf("chmod staging dir: %w", err)}
	}

	registered := false
	defer func() {
		if !registered {
			_ = os.RemoveAll(staging)
			_ = os.Remove(dir)
		}
	}()

	job := &CreatedJob{
		Namespace: namespace,
		ID:        jobID,
		Dir:       dir,
		Command:   CommandLine(req.Command),
		Subdir:    subdir,
		CreatedAt: c.now().UTC(),
	}

	if mode == SourceGit {
		n, err := c.source.Snapshot(ctx, topLevel, staging)
		if err != nil {
			return nil, &OpError{Op: "create", Namespace: namespace, JobID: jobID, Err: err}
		}
		stripped, err := c.stripReserved(staging)
		if err != nil {
			return nil, &OpError{Op: "create", Namespace: namespace, JobID: jobID, Err: err}
		}
		job.FilesCopied = max(n-stripped, 0)
	}

	if err := c.writeMetadata(staging, req, job.CreatedAt); err != nil {
		return nil, &OpError{Op: "create", Namespace: namespace, JobID: jobID, Err: err}
	}

	script := LaunchScript{Command: job.Command, Subdir: subdir}
	if err := writeFileAtomic(staging, string(MarkerLaunchScript), []byte(script.Render()), 0755); err != nil {
		return nil, &OpError{Op: "create", Namespace: namespace, JobID: jobID, Err: err}
	}
	if err := os.Rename(staging, dir); err != nil {
		return nil, &OpError{Op: "create", Namespace: namespace, JobID: jobID, Err: fmt.Errorf("publish job dir: %w", err)}
	}
	registered = true

	c.log.Info("Job created",
		zap.String("namespace", namespace),
		zap.String("job_id", jobID),
		zap.String("command", job.Command),
		zap.Int("files_copied", job.FilesCopied))
	return job, nil
}

// stripReserved removes snapshot entries at the job root that collide with
// ledger-owned names, returning how many were removed.
func (c *Creator) stripReserved(dir string) (int, error) {
	removed := 0
	for _, name := range reservedNames {
		path := filepath.Join(dir, name)
		if _, err := os.Lstat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("remove %s from snapshot: %w", name, err)
		}
		c.log.Warn("Dropped reserved file from source snapshot", zap.String("name", name))
		removed++
	}
	return removed, nil
}

func (c *Creator) writeMetadata(dir string, req CreateRequest, createdAt time.Time) error {
	if err := os.WriteFile(filepath.Join(dir, notesFile), []byte(req.Notes), 0644); err != nil {
		return fmt.Errorf("write notes: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, createdAtFile), []byte(createdAt.Format(time.RFC3339Nano)+"\n"), 0644); err != nil {
		return fmt.Errorf("write creation time: %w", err)
	}
	if req.Hide {
		if err := writeMarker(dir, MarkerHide); err != nil {
			return fmt.Errorf("write hide marker: %w", err)
		}
	}
	if req.DeleteWhenFinished {
		if err := writeMarker(dir, MarkerDeleteWhenFinished); err != nil {
			return fmt.Errorf("write delete marker: %w", err)
		}
	}
	return nil
}

// allocate reserves a job id by creating its empty directory, regenerating the
// id on collision.
func (c *Creator) allocate(nsDir, slug string) (string, string, error) {
	for attempt := 1; attempt <= c.opts.MaxIDAttempts; attempt++ {
		jobID := slug + "_" + c.newSuffix()
		dir := filepath.Join(nsDir, jobID)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return jobID, dir, nil
		}
		if errors.Is(err, fs.ErrExist) {
			c.log.Debug("Job id collision", zap.String("job_id", jobID), zap.Int("attempt", attempt))
			continue
		}
		return "", "", fmt.Errorf("create job dir: %w", err)
	}
	return "", "", fmt.Errorf("%w after %d attempts", ErrIDExhausted, c.opts.MaxIDAttempts)
}

// randomSuffix returns 8 random hex characters.
func randomSuffix() string {
	u := uuid.New()
	return hex.EncodeToString(u[:4])
}

var slugUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeSlug(s string) string {
	s = slugUnsafe.ReplaceAllString(strings.TrimSpace(s), "-")
	s = strings.TrimLeft(s, ".")
	if s == "" {
		return "job"
	}
	return s
}

// relativeSubdir returns workDir relative to topLevel in slash form, or "" when
// they are the same directory.
func relativeSubdir(topLevel, workDir string) string {
	if resolved, err := filepath.EvalSymlinks(workDir); err == nil {
		workDir = resolved
	}
	if resolved, err := filepath.EvalSymlinks(topLevel); err == nil {
		topLevel = resolved
	}
	rel, err := filepath.Rel(topLevel, workDir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}
