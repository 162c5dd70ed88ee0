// Package agent embeds the in-page script that receives insertText messages.
package agent

import _ "embed"

//go:embed agent.js
var source string

// Source returns the agent script. Evaluating it twice is a no-op.
func Source() string { return source }
