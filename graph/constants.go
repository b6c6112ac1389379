package graph

const (
	// Link weight constants
	defaultLinkWeight = 1.0 // Weight for structural links (lineage, same content)

	// Default color for node and relationship types without a definition
	defaultUntypedColor = "#6b7280"

	// Fallback query node ID when the query carries neither digest nor locator
	defaultQueryID = "query"
)

// Canonical ID strategies, in priority order
const (
	StrategyRegKey  = "registration_key"
	StrategyDigest  = "digest_hex"
	StrategyLocator = "content_locator"
)
