package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// hostInfoFile lives at the experiments root and tells launchers where the
// dashboard is served.
const hostInfoFile = "hostinfo.json"

// ErrNoHostInfo indicates no dashboard has published its address yet.
var ErrNoHostInfo = errors.New("host info not found")

// HostInfo is the dashboard discovery record.
type HostInfo struct {
	GUIURL    string    `json:"gui_url"`
	Hostname  string    `json:"hostname,omitempty"`
	BindIP    string    `json:"bind_ip,omitempty"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// JobURL returns the dashboard URL of a job.
func (h HostInfo) JobURL(namespace, jobID string) string {
	base := strings.TrimRight(strings.TrimSpace(h.GUIURL), "/")
	return base + "/experiment/" + url.PathEscape(namespace) + "/" + url.PathEscape(jobID)
}

// WriteHostInfo publishes info at the experiments root.
func WriteHostInfo(root string, info HostInfo) error {
	root = strings.TrimSpace(root)
	if root == "" {
		return fmt.Errorf("experiments root is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create experiments root: %w", err)
	}
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal host info: %w", err)
	}
	return writeFileAtomic(root, hostInfoFile, append(b, '\n'), 0644)
}

// ReadHostInfo loads the discovery record. It returns ErrNoHostInfo when the
// dashboard has never been started against root.
func ReadHostInfo(root string) (*HostInfo, error) {
	b, err := os.ReadFile(filepath.Join(root, hostInfoFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoHostInfo
		}
		return nil, err
	}
	var info HostInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, fmt.Errorf("parse %s: %w", hostInfoFile, err)
	}
	if strings.TrimSpace(info.GUIURL) == "" {
		return nil, ErrNoHostInfo
	}
	return &info, nil
}

// RemoveHostInfo withdraws the discovery record. Missing is not an error.
func RemoveHostInfo(root string) error {
	err := os.Remove(filepath.Join(root, hostInfoFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
