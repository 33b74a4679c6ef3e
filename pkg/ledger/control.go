package ledger

import (
	"errors"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// Controller applies operator actions to jobs by writing or removing markers.
//
// Actions take effect asynchronously: the worker observes markers on its own
// schedule. Acting on a job that is already gone is a successful no-op where
// the desired end state already holds.
type Controller struct {
	layout Layout
	log    *zap.Logger
}

func NewController(opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{layout: NewLayout(opts.Root), log: opts.Logger}
}

// Abort asks the worker to stop and marks the job finished immediately.
// Calling it again is harmless.
func (c *Controller) Abort(namespace, jobID string) error {
	dir, err := c.existingJobDir("abort", namespace, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			c.log.Debug("Abort of missing job ignored", zap.String("namespace", namespace), zap.String("job_id", jobID))
			return nil
		}
		return err
	}

	// abort first: once finished is visible the job reads as done.
	if err := writeMarker(dir, MarkerAbort); err != nil {
		return &OpError{Op: "abort", Namespace: namespace, JobID: jobID, Err: err}
	}
	if err := writeMarker(dir, MarkerFinished); err != nil {
		return &OpError{Op: "abort", Namespace: namespace, JobID: jobID, Err: err}
	}
	c.log.Info("Job aborted", zap.String("namespace", namespace), zap.String("job_id", jobID))
	return nil
}

// Delete recursively removes the job directory. A job that is already gone
// counts as deleted.
func (c *Controller) Delete(namespace, jobID string) error {
	dir, err := c.layout.resolveJobDir(namespace, jobID)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &OpError{Op: "delete", Namespace: namespace, JobID: jobID, Err: err}
	}
	if err := c.layout.ensureWithinRoot(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &OpError{Op: "delete", Namespace: namespace, JobID: jobID, Err: err}
	}
	if err := os.RemoveAll(dir); err != nil {
		return &OpError{Op: "delete", Namespace: namespace, JobID: jobID, Err: err}
	}
	c.log.Info("Job deleted", zap.String("namespace", namespace), zap.String("job_id", jobID))
	return nil
}

// UpdateNotes replaces the job's notes. Last write wins.
func (c *Controller) UpdateNotes(namespace, jobID, notes string) error {
	dir, err := c.existingJobDir("notes", namespace, jobID)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(dir, notesFile, []byte(notes), 0644); err != nil {
		return &OpError{Op: "notes", Namespace: namespace, JobID: jobID, Err: err}
	}
	return nil
}

// SetHidden adds or removes the hide marker.
func (c *Controller) SetHidden(namespace, jobID string, hidden bool) error {
	dir, err := c.existingJobDir("hide", namespace, jobID)
	if err != nil {
		return err
	}
	if hidden {
		err = writeMarker(dir, MarkerHide)
	} else {
		err = removeMarker(dir, MarkerHide)
	}
	if err != nil {
		return &OpError{Op: "hide", Namespace: namespace, JobID: jobID, Err: err}
	}
	return nil
}

// existingJobDir resolves a job directory that exists, carries the launch
// script marker, and lies inside the experiments root.
func (c *Controller) existingJobDir(op, namespace, jobID string) (string, error) {
	dir, err := c.layout.resolveJobDir(namespace, jobID)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &OpError{Op: op, Namespace: namespace, JobID: jobID, Err: ErrJobNotFound}
		}
		return "", &OpError{Op: op, Namespace: namespace, JobID: jobID, Err: err}
	}
	if !st.IsDir() || !markerPresent(dir, MarkerLaunchScript) {
		return "", &OpError{Op: op, Namespace: namespace, JobID: jobID, Err: ErrJobNotFound, Detail: "no " + string(MarkerLaunchScript)}
	}
	if err := c.layout.ensureWithinRoot(dir); err != nil {
		return "", &OpError{Op: op, Namespace: namespace, JobID: jobID, Err: err}
	}
	return dir, nil
}
