package flow

import (
	"context"
	"sort"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// BuildGraph assembles the visualisation payload for an emission epoch from
// the persisted hop aggregates. Node depth is the minimum hop level at which
// the address appears as a hop source; computor seeds sit at depth 0 and
// pure sinks inherit their best inbound depth.
func (t *Tracker) BuildGraph(ctx context.Context, emissionEpoch uint32) (models.FlowGraph, error) {
	graph := models.FlowGraph{EmissionEpoch: emissionEpoch}

	edges, err := t.store.FlowEdgeAggregates(ctx, emissionEpoch)
	if err != nil {
		return graph, err
	}
	depths, err := t.store.HopSourceDepths(ctx, emissionEpoch)
	if err != nil {
		return graph, err
	}

	computors, err := t.store.GetComputors(ctx, emissionEpoch)
	if err != nil {
		return graph, err
	}
	computorSet := make(map[string]bool, len(computors))
	for _, addr := range computors {
		computorSet[addr] = true
	}

	cls, err := t.classifier(ctx, emissionEpoch)
	if err != nil {
		return graph, err
	}

	nodes := make(map[string]*models.FlowNode)
	ensure := func(addr string) *models.FlowNode {
		if n, ok := nodes[addr]; ok {
			return n
		}
		n := &models.FlowNode{Address: addr, Type: models.AddressTypeIntermediary}
		switch {
		case computorSet[addr]:
			n.Type = models.AddressTypeComputor
			n.IsSource = true
		case cls.Exchanges[addr]:
			n.Type = models.AddressTypeExchange
			n.IsSink = true
		case cls.Contracts[addr]:
			n.Type = models.AddressTypeSmartContract
			n.IsSink = true
		}
		if meta, ok := t.registry.Lookup(addr); ok {
			n.Label = meta.Label
		}
		nodes[addr] = n
		return n
	}

	for _, edge := range edges {
		src := ensure(edge.Source)
		dst := ensure(edge.Dest)
		src.Outflow += edge.Amount
		dst.Inflow += edge.Amount
		graph.TotalTracked += edge.Amount
	}

	// Source depth comes from the hop rows; a computor is always the root.
	for addr, n := range nodes {
		if n.Type == models.AddressTypeComputor {
			n.Depth = 0
			continue
		}
		if depth, ok := depths[addr]; ok {
			n.Depth = depth
		} else {
			n.Depth = -1 // sink-only, resolved below
		}
	}

	// A node that never sent gets the best inbound hop level as its depth;
	// the source depth from hop rows stays authoritative where it exists.
	for _, edge := range edges {
		dst := nodes[edge.Dest]
		if dst.Type == models.AddressTypeComputor {
			continue
		}
		if _, ok := depths[edge.Dest]; ok {
			continue
		}
		if dst.Depth == -1 || edge.MinHop < dst.Depth {
			dst.Depth = edge.MinHop
		}
	}

	addrs := make([]string, 0, len(nodes))
	for addr := range nodes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		n := nodes[addr]
		if n.Depth > graph.MaxDepth {
			graph.MaxDepth = n.Depth
		}
		graph.Nodes = append(graph.Nodes, *n)
	}
	graph.Edges = edges
	return graph, nil
}
