package compiler

import (
	"sort"

	"dsl-ob-poc/internal/apperrors"
)

// node is one vertex of the producer graph: either a real op (lowered
// from a statement) or a synthesized implicit-create op inserted by
// synthesizeImplicitCreates.
type node struct {
	op       op
	synthetic bool
}

// edge records a producer(from) -> consumer(to) dependency, both
// indices into the nodes slice.
type edge struct {
	from, to int
}

// buildProducerGraph derives edges from every consumed symbol to its
// producing node. A symbol already present in the session's
// binding context before this program ran has no in-program producer
// and contributes no edge.
func buildProducerGraph(nodes []node, preBound map[string]bool) []edge {
	producerOf := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.op.asBinding != "" {
			producerOf[n.op.asBinding] = i
		}
	}

	var edges []edge
	for i, n := range nodes {
		for _, sym := range n.op.consumesSymbols {
			if preBound[sym] {
				continue
			}
			if p, ok := producerOf[sym]; ok && p != i {
				edges = append(edges, edge{from: p, to: i})
			}
		}
	}
	return edges
}

// topoSort orders nodes deterministically: Kahn's algorithm picking,
// at each step, the lowest-indexed ready node (tie-break on original
// source statement order). Returns the order as a permutation
// of node indices, whether any node was reordered relative to source
// order, and a CyclicDependency error naming every statement
// participating in the cycle when one exists.
func topoSort(nodes []node, edges []edge) (order []int, wasReordered bool, err error) {
	n := len(nodes)
	indegree := make([]int, n)
	adj := make([][]int, n)
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
		indegree[e.to]++
	}
	for i := range adj {
		sort.Ints(adj[i])
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)

	visited := make([]bool, n)
	for len(ready) > 0 {
		sort.Ints(ready)
		cur := ready[0]
		ready = ready[1:]
		visited[cur] = true
		order = append(order, cur)
		for _, next := range adj[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != n {
		var cycleStatements []int
		for i := 0; i < n; i++ {
			if !visited[i] {
				cycleStatements = append(cycleStatements, nodes[i].op.statementIndex)
			}
		}
		return nil, false, apperrors.New(apperrors.KindCyclicDependency, "cyclic dependency among statements").WithStatements(cycleStatements...)
	}

	for pos, idx := range order {
		if idx != pos {
			wasReordered = true
			break
		}
	}

	return order, wasReordered, nil
}
