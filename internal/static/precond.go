// Adapted from filetransport/types.go's condResult three-state
// precondition result and its html-escaping replacer for autoindex
// listings; that package's versions are unexported and blocking-model
// specific, so the static responder carries its own copies.
package static

import "strings"

type condResult int

const (
	condNone condResult = iota
	condTrue
	condFalse
)

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
)
