// File: internal/assets/escape.go
package assets

import "strings"

var jsEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	`/`, `\/`,
)

// escapeJS escapes a value for embedding inside a JavaScript string
// literal. Used on the referrer URL before it is substituted into the
// injected script, since the referrer is attacker-influenced text.
func escapeJS(s string) string {
	return jsEscaper.Replace(s)
}
