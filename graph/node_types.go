package graph

import (
	"sort"
)

// Node types, highest priority first. When one record reaches the graph
// through several paths, the highest-priority type wins.
const (
	NodeQuery     = "query"
	NodeAnchor    = "anchor"
	NodeDeclared  = "declared"
	NodeDuplicate = "duplicate"
	NodeMatch     = "match"
	NodeNeighbor  = "neighbor"
)

// TypeDefinition holds display metadata for a node type.
type TypeDefinition struct {
	TypeName     string
	DisplayColor string
	DisplayLabel string
	Priority     int // higher wins when deduplicating
}

var nodeTypeDefinitions = map[string]TypeDefinition{
	NodeQuery:     {TypeName: NodeQuery, DisplayColor: "#2563eb", DisplayLabel: "Query", Priority: 5},
	NodeAnchor:    {TypeName: NodeAnchor, DisplayColor: "#16a34a", DisplayLabel: "Anchor", Priority: 4},
	NodeDeclared:  {TypeName: NodeDeclared, DisplayColor: "#f97316", DisplayLabel: "Declared lineage", Priority: 3},
	NodeDuplicate: {TypeName: NodeDuplicate, DisplayColor: "#a855f7", DisplayLabel: "Exact duplicate", Priority: 2},
	NodeMatch:     {TypeName: NodeMatch, DisplayColor: "#facc15", DisplayLabel: "Match", Priority: 1},
	NodeNeighbor:  {TypeName: NodeNeighbor, DisplayColor: "#facc15", DisplayLabel: "Neighbor", Priority: 1},
}

// nodeTypePriority returns the dedup priority of a node type; unknown types lose.
func nodeTypePriority(nodeType string) int {
	if def, ok := nodeTypeDefinitions[nodeType]; ok {
		return def.Priority
	}
	return 0
}

// collectNodeTypeInfo counts node types present in the graph with their display metadata.
func collectNodeTypeInfo(nodes []Node) []NodeTypeInfo {
	typeCounts := make(map[string]int)
	for _, node := range nodes {
		typeCounts[node.Type]++
	}

	var nodeTypes []NodeTypeInfo
	for nodeType, count := range typeCounts {
		color, label := defaultUntypedColor, nodeType
		if def, ok := nodeTypeDefinitions[nodeType]; ok {
			color = def.DisplayColor
			label = def.DisplayLabel
		}
		nodeTypes = append(nodeTypes, NodeTypeInfo{
			Type:  nodeType,
			Label: label,
			Color: color,
			Count: count,
		})
	}

	// Legend order follows priority, query first
	sort.Slice(nodeTypes, func(i, j int) bool {
		pi, pj := nodeTypePriority(nodeTypes[i].Type), nodeTypePriority(nodeTypes[j].Type)
		if pi != pj {
			return pi > pj
		}
		return nodeTypes[i].Type < nodeTypes[j].Type
	})

	return nodeTypes
}
