// File: internal/api/files.go
package api

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsight/hudbridge/internal/apierror"
	"github.com/opsight/hudbridge/internal/assets"
	"github.com/opsight/hudbridge/internal/stats"
)

// contentTypeFor maps an asset extension to the served content type.
func contentTypeFor(file string) string {
	switch strings.ToLower(path.Ext(file)) {
	case ".js":
		return "application/javascript; charset=UTF-8"
	case ".html":
		return "text/html; charset=UTF-8"
	case ".css":
		return "text/css; charset=UTF-8"
	case ".json":
		return "application/json; charset=UTF-8"
	case ".png":
		return "image/png"
	case ".svg":
		return "image/svg+xml"
	case ".woff2":
		return "font/woff2"
	default:
		return "application/octet-stream"
	}
}

// renderContext derives the per-request substitution inputs. The referrer
// is forwarded as received; for callback fetches it names the page that
// loaded the script, and the engine prefers it over the request URL when
// present.
func (b *Bridge) renderContext(r *http.Request) assets.RenderContext {
	return assets.RenderContext{
		RequestURL: SiteKey(r) + r.URL.RequestURI(),
		Referrer:   r.Header.Get("Referer"),
	}
}

// handleFile serves assets from the trusted-origin files route. Anything
// under the HUD base directory is reachable here, but the trusted-only
// token substitutions still depend on the request actually arriving at the
// trusted origin.
func (b *Bridge) handleFile(w http.ResponseWriter, r *http.Request) {
	logical := chi.URLParam(r, "*")
	if logical == "" || !validAssetPath(logical) {
		b.renderError(w, newNotFound(r))
		return
	}

	contents, err := b.engine.Serve(logical, b.renderContext(r))
	if err != nil {
		b.renderError(w, newNotFound(r))
		return
	}

	// Development mode always serves fresh assets.
	cacheable := !b.cfg.HUD.DevelopmentMode
	b.writeAsset(w, contentTypeFor(logical), contents, cacheable)
}

// handleDomainFile serves the callback file endpoint reached from target
// domains. Only the allow-listed files exist here, and only under the
// random token issued for the requesting site; everything else is
// not-found regardless of what is on disk.
func (b *Bridge) handleDomainFile(w http.ResponseWriter, r *http.Request) {
	token, ok := b.issuedToken(SiteKey(r))
	if !ok || token != chi.URLParam(r, "token") {
		b.log.Debug("callback token refused", zap.String("site", SiteKey(r)))
		b.renderError(w, newNotFound(r))
		return
	}

	file := chi.URLParam(r, "file")
	logical, ok := domainFileAllowlist[file]
	if !ok {
		b.log.Debug("callback file refused", zap.String("file", file))
		b.renderError(w, newNotFound(r))
		return
	}

	contents, err := b.engine.Serve(logical, b.renderContext(r))
	if err != nil {
		b.renderError(w, newNotFound(r))
		return
	}

	b.stats.IncCounter(stats.StatCallback)
	// Currently only javascript files are allow-listed.
	b.writeAsset(w, "application/javascript; charset=UTF-8", contents, false)
}

func (b *Bridge) writeAsset(w http.ResponseWriter, contentType, contents string, cacheable bool) {
	for k, vs := range b.engine.ResponseHeaders(contentType, len(contents), cacheable) {
		w.Header()[k] = vs
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(contents)); err != nil {
		b.log.Error("failed to write asset response", zap.Error(err))
	}
}

// validAssetPath rejects traversal attempts before the engine touches the
// filesystem.
func validAssetPath(p string) bool {
	clean := path.Clean("/" + p)
	return !strings.Contains(p, "..") && clean == "/"+p
}

func newNotFound(r *http.Request) error {
	return apierror.NotFound(r.URL.Path)
}
