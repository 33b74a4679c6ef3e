package ledger

import (
	"time"

	"go.uber.org/zap"
)

// Collector deletes finished jobs that are no longer wanted.
//
// A job is collected when it reads as finished and either carries the
// delete_when_finished marker or finished longer than MaxAge ago.
type Collector struct {
	scanner    *Scanner
	controller *Controller
	log        *zap.Logger
}

// SweepOptions controls one collection pass.
type SweepOptions struct {
	// MaxAge deletes finished jobs older than this. Zero keeps them.
	MaxAge time.Duration
	DryRun bool
	Now    time.Time
}

// SweepResult reports what a pass removed (or would remove).
type SweepResult struct {
	Deleted     int      `json:"deleted"`
	WouldDelete int      `json:"would_delete"`
	DryRun      bool     `json:"dry_run"`
	Jobs        []string `json:"jobs,omitempty"`
}

func NewCollector(opts Options) *Collector {
	opts = opts.withDefaults()
	return &Collector{
		scanner:    NewScanner(opts),
		controller: NewController(opts),
		log:        opts.Logger,
	}
}

// Sweep walks every namespace, ignoring the page cap.
func (c *Collector) Sweep(opts SweepOptions) (*SweepResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	jobs, err := c.scanner.walkAllJobs(ListOptions{IncludeHidden: true})
	if err != nil {
		return nil, err
	}

	res := &SweepResult{DryRun: opts.DryRun}
	for _, j := range jobs {
		if !collectable(j, opts.MaxAge, now) {
			continue
		}
		ref := j.Namespace + "/" + j.ID
		if opts.DryRun {
			res.WouldDelete++
			res.Jobs = append(res.Jobs, ref)
			continue
		}
		if err := c.controller.Delete(j.Namespace, j.ID); err != nil {
			c.log.Warn("Failed to collect job", zap.String("job", ref), zap.Error(err))
			continue
		}
		res.Deleted++
		res.Jobs = append(res.Jobs, ref)
	}
	return res, nil
}

func collectable(j JobSummary, maxAge time.Duration, now time.Time) bool {
	if j.State != StateFinished {
		return false
	}
	if j.DeleteWhenFinished {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	finished := j.LastModified
	if j.FinishedAt != nil {
		finished = *j.FinishedAt
	}
	return now.Sub(finished) > maxAge
}
