// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

// Package refresh maintains the derived summary views downstream of the
// entity aggregate store. Views form a static dependency DAG declared at
// process start; refreshes walk the DAG in topological order with per-node
// failure isolation, and every attempt lands in the append-only refresh log.
package refresh

import (
	"fmt"
	"sort"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// Node describes one derived view: its dependencies, how to rebuild it and
// under which mode the rebuild is applied.
//
// BuildQuery is a SELECT producing the full view content from the entity
// aggregate store and/or upstream views. Non-blocking nodes must declare a
// UniqueKey; a keyless node silently runs in exclusive mode instead.
type Node struct {
	Name       string
	Deps       []string
	Mode       models.RefreshMode
	UniqueKey  []string
	BuildQuery string
}

// EffectiveMode resolves the mode the node actually refreshes under.
func (n *Node) EffectiveMode() models.RefreshMode {
	if n.Mode == models.RefreshNonBlocking && len(n.UniqueKey) == 0 {
		return models.RefreshExclusive
	}
	return n.Mode
}

// Registry is a validated, immutable view DAG with a precomputed refresh
// order.
type Registry struct {
	nodes map[string]*Node
	order []string
}

// NewRegistry validates the node set and fixes the topological refresh
// order. Unknown dependency names and cycles are rejected here, at process
// start, not at first refresh. Ties between ready nodes break by name so the
// order is stable across restarts.
func NewRegistry(nodes []*Node) (*Registry, error) {
	byName := make(map[string]*Node, len(nodes))
	for _, node := range nodes {
		if node.Name == "" {
			return nil, fmt.Errorf("view node with empty name")
		}
		if node.BuildQuery == "" {
			return nil, fmt.Errorf("view %s: missing build query", node.Name)
		}
		if _, dup := byName[node.Name]; dup {
			return nil, fmt.Errorf("duplicate view name %s", node.Name)
		}
		byName[node.Name] = node
	}

	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		indegree[node.Name] += 0
		for _, dep := range node.Deps {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("view %s depends on unknown view %s", node.Name, dep)
			}
			if dep == node.Name {
				return nil, fmt.Errorf("view %s depends on itself", node.Name)
			}
			indegree[node.Name]++
			dependents[dep] = append(dependents[dep], node.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := false
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(nodes) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle involving views: %v", stuck)
	}

	return &Registry{nodes: byName, order: order}, nil
}

// Order returns the refresh order, dependencies first.
func (r *Registry) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Node returns the named node, or nil.
func (r *Registry) Node(name string) *Node {
	return r.nodes[name]
}

// Len returns the number of registered views.
func (r *Registry) Len() int {
	return len(r.nodes)
}
