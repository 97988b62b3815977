// File: internal/api/router.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/opsight/hudbridge/internal/apierror"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Router builds the full control-plane handler for the bridge's callback
// namespace. It serves the API listener and callback hits on the trusted
// origin; target-site traffic goes through DomainRouter instead.
func (b *Bridge) Router() http.Handler {
	r := chi.NewRouter()

	r.Route(b.cfg.Server.CallbackPath, func(r chi.Router) {
		r.HandleFunc("/action/{name}", b.handleAction)
		r.Get("/view/{name}", b.handleView)
		r.Get("/other/{name}", b.handleOther)
		r.Get("/files/*", b.handleFile)
		if b.hub != nil {
			r.Handle("/ws", b.hub)
		}
		// Per-site callback prefixes carry a random path element
		// between the callback path and the target file route.
		r.Get("/{token}/target/{file}", b.handleDomainFile)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		b.renderError(w, apierror.NotFound(r.URL.Path))
	})
	return r
}

// DomainRouter builds the handler for callback hits on target domains.
// Only the per-site file endpoint exists there; a hostile page reaching
// for the control-plane routes sees the same not-found as for any other
// unknown path.
func (b *Bridge) DomainRouter() http.Handler {
	r := chi.NewRouter()

	r.Route(b.cfg.Server.CallbackPath, func(r chi.Router) {
		r.Get("/{token}/target/{file}", b.handleDomainFile)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		b.renderError(w, apierror.NotFound(r.URL.Path))
	})
	return r
}

// renderJSON writes a JSON response body.
func (b *Bridge) renderJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		b.log.Error("failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	w.Write(data)
}

// renderOK writes the canonical OK result used by actions and heartbeat.
func (b *Bridge) renderOK(w http.ResponseWriter) {
	b.renderJSON(w, http.StatusOK, map[string]string{"Result": "OK"})
}

// renderError maps a taxonomy error onto the wire.
func (b *Bridge) renderError(w http.ResponseWriter, err error) {
	apiErr := apierror.As(err)
	if apiErr.Kind == apierror.KindInternal {
		b.log.Error("request failed", zap.Error(apiErr))
	} else {
		b.log.Debug("request rejected", zap.Error(apiErr))
	}
	b.renderJSON(w, apiErr.HTTPStatus(), map[string]string{
		"code":    string(apiErr.Kind),
		"message": apiErr.Detail,
	})
}
