package graph

import (
	"time"
)

// Graph is the provenance neighbourhood of a query asset, ready for visualization
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
	Meta  Meta   `json:"meta"`
}

// Node is the query asset or a stored registration
type Node struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`                 // query, anchor, declared, duplicate, match, neighbor
	Label      string                 `json:"label"`                // Display label
	Visible    bool                   `json:"visible"`              // Backend controls visibility
	Group      int                    `json:"group,omitempty"`      // For coloring/clustering
	Similarity *float64               `json:"similarity,omitempty"` // First-seen similarity to the query
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Link is a directed relationship between two nodes
type Link struct {
	Source     string   `json:"source"` // Node ID
	Target     string   `json:"target"` // Node ID
	Type       string   `json:"type"`   // Relationship type (query_match, same_content, ...)
	Weight     float64  `json:"value"`  // Link strength/weight (D3 uses "value")
	Label      string   `json:"label,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
	Hidden     bool     `json:"hidden,omitempty"` // Outside the curated set; only present when requested
}

// Meta contains metadata about the graph
type Meta struct {
	GeneratedAt       time.Time              `json:"generated_at"`
	Stats             Stats                  `json:"stats"`
	Config            map[string]string      `json:"config"`
	QueryID           string                 `json:"query_id"`
	AnchorID          string                 `json:"anchor_id,omitempty"`
	Threshold         float64                `json:"threshold"`
	TopK              int                    `json:"top_k"`
	CanonicalStrategy string                 `json:"canonical_strategy"`
	NodeTypes         []NodeTypeInfo         `json:"node_types"`         // Node types present in this graph
	RelationshipTypes []RelationshipTypeInfo `json:"relationship_types"` // Relationship types with physics
}

// NodeTypeInfo describes a node type and its visual configuration
type NodeTypeInfo struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
	Count int    `json:"count,omitempty"`
}

// RelationshipTypeInfo describes a relationship type with physics and visual configuration
type RelationshipTypeInfo struct {
	Type         string   `json:"type"`
	Label        string   `json:"label"`
	Color        string   `json:"color,omitempty"`
	LinkDistance *float64 `json:"link_distance,omitempty"` // D3 force distance override (nil = use default)
	LinkStrength *float64 `json:"link_strength,omitempty"` // D3 force strength override (nil = use default)
	Count        int      `json:"count,omitempty"`
}

// Stats provides graph statistics
type Stats struct {
	TotalNodes int `json:"total_nodes,omitempty"`
	TotalEdges int `json:"total_edges,omitempty"`
	Candidates int `json:"candidates,omitempty"`
	Duplicates int `json:"duplicates,omitempty"`
	Declared   int `json:"declared,omitempty"`
}
