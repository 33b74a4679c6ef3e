package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"
)

// Scanner enumerates namespaces and jobs and assembles the ordered read-model.
//
// Scans take no locks. A job directory that disappears or changes between
// listing and reading is skipped, never reported as an error.
type Scanner struct {
	layout Layout
	reader *Reader
	opts   Options
	log    *zap.Logger
}

// ListOptions selects which jobs a listing returns.
type ListOptions struct {
	// IncludeHidden keeps jobs carrying the hide marker.
	IncludeHidden bool
}

func NewScanner(opts Options) *Scanner {
	opts = opts.withDefaults()
	return &Scanner{
		layout: NewLayout(opts.Root),
		reader: NewReader(opts),
		opts:   opts,
		log:    opts.Logger,
	}
}

func (s *Scanner) Reader() *Reader {
	return s.reader
}

type candidate struct {
	namespace string
	id        string
	dir       string
	modTime   time.Time
}

// EnsureLedger creates the experiments root and the default namespace.
func (s *Scanner) EnsureLedger() error {
	if s.layout.Root() == "" || s.layout.Root() == "." {
		return fmt.Errorf("experiments root is empty")
	}
	if err := os.MkdirAll(s.layout.NamespaceDir(DefaultNamespace), 0755); err != nil {
		return fmt.Errorf("create default namespace: %w", err)
	}
	return nil
}

// ListJobs returns up to PageSize of the most recently modified jobs in
// namespace, newest first. A namespace that does not exist lists as empty.
func (s *Scanner) ListJobs(namespace string, opts ListOptions) ([]JobSummary, error) {
	if err := ValidateName("namespace", namespace); err != nil {
		return nil, err
	}
	if err := s.EnsureLedger(); err != nil {
		return nil, err
	}
	cands, err := s.candidates(namespace)
	if err != nil {
		return nil, err
	}
	return s.read(s.newest(cands, s.opts.PageSize), opts), nil
}

// ListAllJobs is ListJobs across every namespace, with the page cap applied
// to the combined set.
func (s *Scanner) ListAllJobs(opts ListOptions) ([]JobSummary, error) {
	cands, err := s.allCandidates()
	if err != nil {
		return nil, err
	}
	return s.read(s.newest(cands, s.opts.PageSize), opts), nil
}

// walkAllJobs reads every job in the ledger without the page cap. It backs
// maintenance work such as garbage collection, never request handling.
func (s *Scanner) walkAllJobs(opts ListOptions) ([]JobSummary, error) {
	cands, err := s.allCandidates()
	if err != nil {
		return nil, err
	}
	return s.read(s.newest(cands, len(cands)), opts), nil
}

func (s *Scanner) allCandidates() ([]candidate, error) {
	if err := s.EnsureLedger(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.layout.Root())
	if err != nil {
		return nil, fmt.Errorf("read experiments root: %w", err)
	}
	var cands []candidate
	for _, entry := range entries {
		if !isListable(entry) {
			continue
		}
		c, err := s.candidates(entry.Name())
		if err != nil {
			s.log.Debug("Skipping unreadable namespace", zap.String("namespace", entry.Name()), zap.Error(err))
			continue
		}
		cands = append(cands, c...)
	}
	return cands, nil
}

func (s *Scanner) candidates(namespace string) ([]candidate, error) {
	dir := s.layout.NamespaceDir(namespace)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &OpError{Op: "list", Namespace: namespace, Err: err}
	}

	out := make([]candidate, 0, len(entries))
	for _, entry := range entries {
		if !isListable(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed since ReadDir.
			continue
		}
		out = append(out, candidate{
			namespace: namespace,
			id:        entry.Name(),
			dir:       s.layout.JobDir(namespace, entry.Name()),
			modTime:   info.ModTime(),
		})
	}
	return out, nil
}

// newest sorts ascending by mtime and keeps the last n. Older entries are
// dropped, not paginated.
func (s *Scanner) newest(cands []candidate, n int) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if !cands[i].modTime.Equal(cands[j].modTime) {
			return cands[i].modTime.Before(cands[j].modTime)
		}
		if cands[i].namespace != cands[j].namespace {
			return cands[i].namespace < cands[j].namespace
		}
		return cands[i].id < cands[j].id
	})
	if n >= 0 && len(cands) > n {
		cands = cands[len(cands)-n:]
	}
	return cands
}

func (s *Scanner) read(cands []candidate, opts ListOptions) []JobSummary {
	summaries := iter.Map(cands, func(c *candidate) *JobSummary {
		sum, err := s.reader.readDir(c.namespace, c.id, c.dir)
		if err != nil {
			return nil
		}
		return sum
	})

	out := make([]JobSummary, 0, len(summaries))
	for _, sum := range summaries {
		if sum == nil {
			continue
		}
		if sum.Hidden && !opts.IncludeHidden {
			continue
		}
		out = append(out, *sum)
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders jobs by LastModified descending. Ties fall back to
// namespace then id so the order is total.
func SortNewestFirst(jobs []JobSummary) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].LastModified.Equal(jobs[j].LastModified) {
			return jobs[i].LastModified.After(jobs[j].LastModified)
		}
		if jobs[i].Namespace != jobs[j].Namespace {
			return jobs[i].Namespace < jobs[j].Namespace
		}
		return jobs[i].ID < jobs[j].ID
	})
}

// Namespaces lists namespace directories, most recently active first.
//
// Count is a direct subdirectory count and is not filtered for validity.
func (s *Scanner) Namespaces() ([]Namespace, error) {
	if err := s.EnsureLedger(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.layout.Root())
	if err != nil {
		return nil, fmt.Errorf("read experiments root: %w", err)
	}

	out := make([]Namespace, 0, len(entries))
	for _, entry := range entries {
		if !isListable(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		ns := Namespace{Name: entry.Name(), LastModified: info.ModTime()}

		cands, err := s.candidates(entry.Name())
		if err != nil {
			continue
		}
		ns.Count = len(cands)
		for i, c := range cands {
			if i == 0 || c.modTime.After(ns.LastModified) {
				ns.LastModified = c.modTime
			}
		}
		out = append(out, ns)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// NamespaceMetrics collects the metrics snapshot and notes of every listed
// job in namespace. Keys are sorted with "notes" last.
func (s *Scanner) NamespaceMetrics(namespace string) (*MetricsTable, error) {
	jobs, err := s.ListJobs(namespace, ListOptions{})
	if err != nil {
		return nil, err
	}

	table := &MetricsTable{Namespace: namespace, Rows: make(map[string]map[string]any, len(jobs))}
	keys := make(map[string]struct{})
	for _, j := range jobs {
		row := make(map[string]any, len(j.Metrics)+1)
		for k, v := range j.Metrics {
			if k == metricsNotesKey {
				continue
			}
			row[k] = v
			keys[k] = struct{}{}
		}
		row[metricsNotesKey] = j.Notes
		table.Rows[j.ID] = row
	}

	table.Keys = make([]string, 0, len(keys)+1)
	for k := range keys {
		table.Keys = append(table.Keys, k)
	}
	sort.Strings(table.Keys)
	table.Keys = append(table.Keys, metricsNotesKey)
	return table, nil
}

const metricsNotesKey = "notes"
