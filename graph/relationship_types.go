package graph

import (
	"sort"
)

// Relationship types
const (
	RelQueryMatch      = "query_match"      // query -> candidate at or above the verify threshold
	RelQueryNeighbor   = "query_neighbor"   // query -> candidate below the threshold
	RelSimilarity      = "similarity"       // anchor -> other candidates
	RelSameContent     = "same_content"     // anchor -> byte-identical registrations
	RelDeclaredLineage = "declared_lineage" // child -> recorded near-duplicate parent
)

// curatedRelationships are the links kept for visualization.
var curatedRelationships = map[string]bool{
	RelQueryMatch:      true,
	RelDeclaredLineage: true,
	RelSameContent:     true,
}

// RelationshipDefinition holds physics and display metadata for a relationship type.
type RelationshipDefinition struct {
	DisplayLabel string
	Color        string
	LinkDistance *float64
	LinkStrength *float64
}

func f64(v float64) *float64 { return &v }

var relationshipDefinitions = map[string]RelationshipDefinition{
	RelQueryMatch:      {DisplayLabel: "Matches query", Color: "#60a5fa", LinkDistance: f64(120)},
	RelQueryNeighbor:   {DisplayLabel: "Near query", Color: "#cbd5f5", LinkDistance: f64(180), LinkStrength: f64(0.2)},
	RelSimilarity:      {DisplayLabel: "Similar", Color: "#94a3b8", LinkDistance: f64(160), LinkStrength: f64(0.3)},
	RelSameContent:     {DisplayLabel: "Same content", Color: "#c084fc", LinkDistance: f64(60), LinkStrength: f64(0.9)},
	RelDeclaredLineage: {DisplayLabel: "Derived from", Color: "#fb923c", LinkDistance: f64(90), LinkStrength: f64(0.6)},
}

// collectRelationshipTypeInfo counts relationship types present in the graph with their physics.
func collectRelationshipTypeInfo(links []Link) []RelationshipTypeInfo {
	typeCounts := make(map[string]int)
	for _, link := range links {
		typeCounts[link.Type]++
	}

	var relationshipTypes []RelationshipTypeInfo
	for linkType, count := range typeCounts {
		info := RelationshipTypeInfo{
			Type:  linkType,
			Label: linkType,
			Count: count,
		}
		if def, ok := relationshipDefinitions[linkType]; ok {
			info.Label = def.DisplayLabel
			info.Color = def.Color
			info.LinkDistance = def.LinkDistance
			info.LinkStrength = def.LinkStrength
		}
		relationshipTypes = append(relationshipTypes, info)
	}

	// Most common relationship types appear first
	sort.Slice(relationshipTypes, func(i, j int) bool {
		if relationshipTypes[i].Count != relationshipTypes[j].Count {
			return relationshipTypes[i].Count > relationshipTypes[j].Count
		}
		return relationshipTypes[i].Type < relationshipTypes[j].Type
	})

	return relationshipTypes
}
