package mcp

// mcpErrorBody is the flat OAuth-style error body MCP's HTTP auth/token surfaces use
// ({"error": "<code>", "error_description": "<text>"}), per RFC 6749 §5.2. This is distinct from
// the ambient pkg/apperror nested {"error":{"code","message"}} shape kept for non-MCP-protocol
// surfaces (health, admin) — conflating the two would silently break client error parsing.
type mcpErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
