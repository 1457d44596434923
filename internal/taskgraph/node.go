// Package taskgraph models evaluation work as a dependency graph of nodes
// with fingerprinted inputs and declared outputs, decides which nodes are
// stale, and executes the stale subgraph on a bounded worker pool.
package taskgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/mwiater/voxeval/internal/fingerprint"
)

// Kind is the type of work a node performs.
type Kind string

const (
	KindDownload         Kind = "download"
	KindTrain            Kind = "train"
	KindTranscribe       Kind = "transcribe"
	KindRecognize        Kind = "recognize"
	KindScore            Kind = "score"
	KindAggregateProfile Kind = "aggregate"
	KindAggregateAll     Kind = "aggregate-all"
)

// Status is a node's staleness or outcome.
type Status int

const (
	StatusUnknown Status = iota
	StatusFresh
	StatusStale
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task is the action a node runs.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Input is one fingerprinted input of a node: either a file or a named value.
type Input struct {
	Key   string
	Path  string
	Value []byte
}

// FileInput declares a file whose fingerprint feeds staleness.
func FileInput(path string) Input {
	return Input{Key: "file:" + path, Path: path}
}

// ParamInput declares a named value, such as a command line or ground-truth
// record, whose change makes the node stale.
func ParamInput(name string, value []byte) Input {
	return Input{Key: "param:" + name, Value: value}
}

// Node is a unit of work in the graph.
type Node struct {
	ID      string
	Kind    Kind
	Inputs  []Input
	Outputs []string
	// ListOutputs, when set, names further outputs known only from what the
	// task wrote, such as files listed in a manifest. Missing or changed ones
	// make the node stale like declared outputs.
	ListOutputs func() ([]string, error)
	// Deps lists IDs of nodes whose outputs this node consumes.
	Deps []string
	Task Task
}

// NodeID builds the canonical identifier "<kind>:<scope>[:<sample>]".
func NodeID(kind Kind, scope, sample string) string {
	if scope == "" {
		return string(kind)
	}
	if sample == "" {
		return fmt.Sprintf("%s:%s", kind, scope)
	}
	return fmt.Sprintf("%s:%s:%s", kind, scope, sample)
}

func (n *Node) inputFingerprints(mode fingerprint.Mode) (map[string]string, error) {
	out := make(map[string]string, len(n.Inputs))
	for _, in := range n.Inputs {
		if in.Path != "" {
			fp, err := fingerprint.File(in.Path, mode)
			if err != nil {
				return nil, fmt.Errorf("fingerprint %s: %w", in.Path, err)
			}
			out[in.Key] = fp
			continue
		}
		out[in.Key] = fingerprint.Value(in.Value)
	}
	return out, nil
}

// outputFingerprints always hashes outputs by mode; the second return lists
// outputs that do not exist.
func (n *Node) outputFingerprints(mode fingerprint.Mode) (map[string]string, []string, error) {
	paths := n.Outputs
	if n.ListOutputs != nil {
		extra, err := n.ListOutputs()
		if err != nil {
			return nil, nil, fmt.Errorf("list outputs: %w", err)
		}
		paths = append(append([]string(nil), n.Outputs...), extra...)
	}
	out := make(map[string]string, len(paths))
	var missing []string
	for _, path := range paths {
		fp, err := fingerprint.File(path, mode)
		if err != nil {
			return nil, nil, fmt.Errorf("fingerprint %s: %w", path, err)
		}
		if fp == fingerprint.Absent {
			missing = append(missing, path)
		}
		out[path] = fp
	}
	sort.Strings(missing)
	return out, missing, nil
}
