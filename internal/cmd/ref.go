package cmd

import (
	"fmt"
	"strings"

	"github.com/3leaps/gohat/pkg/ledger"
)

// parseJobRef splits "<namespace>/<id>". A bare id uses defaultNamespace.
func parseJobRef(ref, defaultNamespace string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("job reference is required")
	}
	ns, id, found := strings.Cut(ref, "/")
	if !found {
		return defaultNamespace, ref, nil
	}
	if ns == "" || id == "" || strings.Contains(id, "/") {
		return "", "", fmt.Errorf("invalid job reference %q (expected <namespace>/<id>)", ref)
	}
	return ns, id, nil
}

// resolveJobRef finds a job by exact id first, then by unique id prefix
// within its namespace.
func resolveJobRef(l *ledger.Ledger, ref, defaultNamespace string) (string, string, error) {
	ns, id, err := parseJobRef(ref, defaultNamespace)
	if err != nil {
		return "", "", err
	}

	// Exact match first.
	_, err = l.Reader.Read(ns, id)
	if err == nil {
		return ns, id, nil
	}
	if !ledger.IsNotFound(err) {
		return "", "", err
	}

	// Prefix match (allows table-friendly short IDs).
	jobs, lerr := l.Scanner.ListJobs(ns, ledger.ListOptions{IncludeHidden: true})
	if lerr != nil {
		return "", "", lerr
	}
	matches := make([]string, 0, 2)
	for _, j := range jobs {
		if strings.HasPrefix(j.ID, id) {
			matches = append(matches, j.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", "", err
	case 1:
		return ns, matches[0], nil
	default:
		return "", "", fmt.Errorf("job id prefix %q is ambiguous in %s (%d matches); use the full id", id, ns, len(matches))
	}
}
