package taskgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mwiater/voxeval/internal/fingerprint"
)

// NodePlan is the staleness verdict for one node.
type NodePlan struct {
	ID     string
	Kind   Kind
	Status Status
	Reason string
}

// Plan holds verdicts for every node in topological order.
type Plan struct {
	Nodes []NodePlan
	byID  map[string]int
}

// Get returns the verdict for id.
func (p *Plan) Get(id string) (NodePlan, bool) {
	i, ok := p.byID[id]
	if !ok {
		return NodePlan{}, false
	}
	return p.Nodes[i], true
}

// Stale returns the IDs of stale nodes in topological order.
func (p *Plan) Stale() []string {
	var out []string
	for _, n := range p.Nodes {
		if n.Status == StatusStale {
			out = append(out, n.ID)
		}
	}
	return out
}

// Counts returns the number of fresh and stale nodes.
func (p *Plan) Counts() (fresh, stale int) {
	for _, n := range p.Nodes {
		switch n.Status {
		case StatusFresh:
			fresh++
		case StatusStale:
			stale++
		}
	}
	return fresh, stale
}

// Compute decides the status of every node against the store. A node is
// stale when it has never run, a dependency is stale, an output is missing
// or changed, or an input fingerprint differs from its record.
func Compute(g *Graph, store fingerprint.Store, mode fingerprint.Mode) (*Plan, error) {
	order, err := g.order()
	if err != nil {
		return nil, err
	}

	status := make([]Status, len(g.nodes))
	plan := &Plan{Nodes: make([]NodePlan, 0, len(order)), byID: make(map[string]int, len(order))}

	for _, i := range order {
		n := g.nodes[i]
		st, reason := evaluate(g, i, status, store, mode)
		status[i] = st
		plan.byID[n.ID] = len(plan.Nodes)
		plan.Nodes = append(plan.Nodes, NodePlan{ID: n.ID, Kind: n.Kind, Status: st, Reason: reason})
	}
	return plan, nil
}

func evaluate(g *Graph, i int, status []Status, store fingerprint.Store, mode fingerprint.Mode) (Status, string) {
	n := g.nodes[i]

	for _, d := range g.deps[i] {
		if status[d] != StatusFresh {
			return StatusStale, "upstream stale: " + g.nodes[d].ID
		}
	}

	rec, ok := store.Get(n.ID)
	if !ok {
		return StatusStale, "never run"
	}

	outputs, missing, err := n.outputFingerprints(mode)
	if err != nil {
		return StatusStale, err.Error()
	}
	if len(missing) > 0 {
		return StatusStale, "output missing: " + strings.Join(missing, ", ")
	}
	if changed := fingerprint.Diff(rec.Outputs, outputs); len(changed) > 0 {
		return StatusStale, "output changed: " + strings.Join(changed, ", ")
	}

	inputs, err := currentInputs(g, i, store, mode)
	if err != nil {
		return StatusStale, err.Error()
	}
	if changed := fingerprint.Diff(rec.Inputs, inputs); len(changed) > 0 {
		return StatusStale, fmt.Sprintf("inputs changed: %s", strings.Join(changed, ", "))
	}
	return StatusFresh, ""
}

// currentInputs fingerprints a node's declared inputs plus the committed
// record of each dependency, so a dependency that re-ran since this node's
// last success makes it stale even if the dependency is fresh now.
func currentInputs(g *Graph, i int, store fingerprint.Store, mode fingerprint.Mode) (map[string]string, error) {
	inputs, err := g.nodes[i].inputFingerprints(mode)
	if err != nil {
		return nil, err
	}
	for _, d := range g.deps[i] {
		dep := g.nodes[d]
		rec, ok := store.Get(dep.ID)
		if !ok {
			return nil, fmt.Errorf("dependency %s has no record", dep.ID)
		}
		inputs["dep:"+dep.ID] = recordFingerprint(rec)
	}
	return inputs, nil
}

func recordFingerprint(rec fingerprint.Record) string {
	keys := make([]string, 0, len(rec.Outputs))
	for k := range rec.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(rec.RunID)
	for _, k := range keys {
		b.WriteString("\n" + k + "=" + rec.Outputs[k])
	}
	return fingerprint.Value([]byte(b.String()))
}
