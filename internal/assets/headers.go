// File: internal/assets/headers.go
package assets

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// cspPolicy builds the Content-Security-Policy for served assets. The
// connect sources are pinned to the bridge's own trusted origin so HUD
// frames can only ever talk back to the control plane.
// TODO drop 'unsafe-inline' styles once the panel CSS stops relying on them.
func cspPolicy(trustedOrigin string, unsafeEval bool) string {
	host := strings.TrimPrefix(trustedOrigin, "https://")
	scriptSrc := "'self'"
	if unsafeEval {
		scriptSrc = "'self' 'unsafe-eval'"
	}
	return fmt.Sprintf(
		"default-src 'none'; script-src %s; connect-src https://%s wss://%s; frame-src 'self'; img-src 'self' data:; "+
			"font-src 'self' data:; style-src 'self' 'unsafe-inline' ;",
		scriptSrc, host, host)
}

// ResponseHeaders builds the header block every asset response carries:
// the CSP, CORS allowances, anti-sniffing and XSS protection, and a cache
// directive per cacheable. The CSP variant is chosen by configuration,
// never by anything in the request.
func (e *Engine) ResponseHeaders(contentType string, contentLength int, cacheable bool) http.Header {
	h := http.Header{}
	if cacheable {
		h.Set("Cache-Control", "public,max-age=3000000")
	} else {
		h.Set("Pragma", "no-cache")
		h.Set("Cache-Control", "no-cache")
	}
	h.Set("Content-Security-Policy", cspPolicy(e.server.TrustedOrigin, e.hud.AllowUnsafeEval))
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "HUD-Header")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Clacks-Overhead", "GNU Terry Pratchett")
	h.Set("Content-Length", strconv.Itoa(contentLength))
	h.Set("Content-Type", contentType)
	return h
}
