package display

import (
	"encoding/json"
	"os"
)

// CompactEnv selects single-line JSON, for piping into line-oriented tools.
const CompactEnv = "PROOFCHAIN_JSON_COMPACT"

// MarshalJSON marshals JSON with pretty formatting unless compact output was requested
func MarshalJSON(v interface{}) ([]byte, error) {
	if os.Getenv(CompactEnv) != "" {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
