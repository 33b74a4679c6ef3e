// Package ledger implements the filesystem-backed job ledger.
//
// Each job is a directory under <root>/<namespace>/<job_id>. Lifecycle is
// signalled by sentinel files written by the launcher, the worker, and
// operators; everything else in this package is derived from those files on
// every read.
package ledger

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPageSize      = 100
	DefaultHeadlineMax   = 128
	DefaultMaxIDAttempts = 16

	// logSummaryLines is how many stdout lines stand in for a missing .last_summary.log.
	logSummaryLines = 8

	// imagesPerGroup bounds the images kept per group in ImageGroups.
	imagesPerGroup = 5
)

// DefaultImageExtensions are the artifact extensions treated as images.
var DefaultImageExtensions = []string{"jpg", "png", "tiff", "bmp", "gif"}

// Ledger bundles the components that share one experiments root.
type Ledger struct {
	Scanner    *Scanner
	Reader     *Reader
	Controller *Controller
	Creator    *Creator
	Collector  *Collector
}

// Open wires every ledger component from opts. The source collaborator may be
// nil to use git.
func Open(opts Options, source SourceControl) *Ledger {
	opts = opts.withDefaults()
	scanner := NewScanner(opts)
	return &Ledger{
		Scanner:    scanner,
		Reader:     scanner.Reader(),
		Controller: NewController(opts),
		Creator:    NewCreator(opts, source),
		Collector:  NewCollector(opts),
	}
}

// Options configures ledger components. It is passed explicitly at construction.
type Options struct {
	// Root is the experiments root directory.
	Root string

	// PageSize caps how many job directories a scan inspects.
	PageSize int

	// ImageExtensions lists artifact extensions (without dot) treated as images.
	ImageExtensions []string

	// HeadlineMax truncates headline and subtitle (in runes). Zero disables truncation.
	HeadlineMax int

	// MaxIDAttempts bounds id regeneration on collision.
	MaxIDAttempts int

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if len(o.ImageExtensions) == 0 {
		o.ImageExtensions = DefaultImageExtensions
	}
	exts := make([]string, 0, len(o.ImageExtensions))
	for _, ext := range o.ImageExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	o.ImageExtensions = exts
	if o.HeadlineMax < 0 {
		o.HeadlineMax = 0
	}
	if o.MaxIDAttempts <= 0 {
		o.MaxIDAttempts = DefaultMaxIDAttempts
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Progress is a completion estimate scraped from a progress-bar line.
type Progress struct {
	Known   bool    `json:"known"`
	Percent float64 `json:"percent,omitempty"`
	ETA     string  `json:"eta,omitempty"`
}

// Artifact is a file produced by a job, addressed relative to the job directory.
type Artifact struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// JobSummary is the read-only, display-ready view of one job.
type JobSummary struct {
	ID          string  `json:"id"`
	Namespace   string  `json:"namespace"`
	DisplayName string  `json:"display_name"`
	State       State   `json:"state"`
	Markers     Markers `json:"markers"`

	Headline   string         `json:"headline"`
	Subtitle   string         `json:"subtitle"`
	Notes      string         `json:"notes,omitempty"`
	LogSummary string         `json:"log_summary,omitempty"`
	Progress   Progress       `json:"progress"`
	Metrics    map[string]any `json:"metrics,omitempty"`

	LatestImage *Artifact `json:"latest_image,omitempty"`

	Hidden             bool `json:"hidden"`
	DeleteWhenFinished bool `json:"delete_when_finished"`

	CreatedAt    time.Time  `json:"created_at"`
	LastModified time.Time  `json:"last_modified"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`

	Dir string `json:"dir"`
}

// Namespace summarizes one namespace directory.
type Namespace struct {
	Name         string    `json:"name"`
	Count        int       `json:"count"`
	LastModified time.Time `json:"last_modified"`
}

// FileEntry is one row of a job directory listing.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// ImageGroup collects images sharing a filename prefix (e.g. "loss_0001.png" -> "loss").
type ImageGroup struct {
	Name   string     `json:"name"`
	Images []Artifact `json:"images"`
	Latest Artifact   `json:"latest"`
}

// MetricsTable is the cross-job metrics view of a namespace.
type MetricsTable struct {
	Namespace string                    `json:"namespace"`
	Keys      []string                  `json:"keys"`
	Rows      map[string]map[string]any `json:"rows"`
}
