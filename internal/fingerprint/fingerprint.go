// Package fingerprint computes input/output fingerprints and persists the
// per-node records the scheduler compares against to detect staleness.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
)

// Mode selects how file fingerprints are computed.
type Mode string

const (
	// ModeHash fingerprints files by SHA-256 of their content.
	ModeHash Mode = "hash"
	// ModeMtime fingerprints files by modification time and size.
	ModeMtime Mode = "mtime"
)

// Absent is the fingerprint of a file that does not exist.
const Absent = "absent"

// ParseMode converts a config value to a Mode, defaulting to ModeHash.
func ParseMode(s string) Mode {
	if Mode(s) == ModeMtime {
		return ModeMtime
	}
	return ModeHash
}

// File returns the fingerprint of the file at path.
func File(path string, mode Mode) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Absent, nil
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("fingerprint: %s is a directory", path)
	}
	if mode == ModeMtime {
		return fmt.Sprintf("mtime:%d:%d", info.ModTime().UnixNano(), info.Size()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Value fingerprints an in-memory value such as a command line or a ground
// truth record.
func Value(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Record is what the store remembers about a node's last successful run.
type Record struct {
	Kind    string            `json:"kind"`
	Inputs  map[string]string `json:"inputs"`
	Outputs map[string]string `json:"outputs"`
	RunID   string            `json:"run_id"`
}

// Diff returns the sorted keys whose fingerprints differ between the
// recorded and current sets, including keys present in only one of them.
func Diff(recorded, current map[string]string) []string {
	var changed []string
	for k, v := range current {
		if old, ok := recorded[k]; !ok || old != v {
			changed = append(changed, k)
		}
	}
	for k := range recorded {
		if _, ok := current[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Store persists Records keyed by node ID. Implementations must make Commit
// and Invalidate atomic per node.
type Store interface {
	// Load reads persisted state. A corrupt store is reset to empty and an
	// integrity error is returned so callers can warn and continue.
	Load() error
	Get(id string) (Record, bool)
	Commit(id string, rec Record) error
	// Invalidate forgets a node's record before it re-executes, so an
	// interrupted run leaves the node stale.
	Invalidate(id string) error
	// Flush compacts pending writes into durable storage.
	Flush() error
	// Reset discards all records, forcing full recomputation.
	Reset() error
	Close() error
}
