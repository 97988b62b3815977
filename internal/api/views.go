// File: internal/api/views.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsight/hudbridge/internal/apierror"
)

// handleView dispatches the read-only endpoints.
func (b *Bridge) handleView(w http.ResponseWriter, r *http.Request) {
	switch name := chi.URLParam(r, "name"); name {
	case viewAlertData:
		summary, err := b.corr.Summarize(r.FormValue(paramURL))
		if err != nil {
			b.renderError(w, asAPIError(err, paramURL))
			return
		}
		b.renderJSON(w, http.StatusOK, summary)

	case viewHeartbeat:
		b.log.Debug("received heartbeat")
		b.renderOK(w)

	case viewGetUIOption:
		key := r.FormValue(paramKey)
		value, err := b.state.UIOption(key)
		if err != nil {
			b.renderError(w, asAPIError(err, paramKey))
			return
		}
		b.renderJSON(w, http.StatusOK, map[string]string{key: value})

	case viewTutorialUpdates:
		updates, err := b.state.TutorialUpdates()
		if err != nil {
			b.renderError(w, apierror.Internal(viewTutorialUpdates, err))
			return
		}
		b.renderJSON(w, http.StatusOK, map[string][]string{viewTutorialUpdates: updates})

	case viewUpgradedDomains:
		b.renderJSON(w, http.StatusOK, map[string][]string{viewUpgradedDomains: b.UpgradedDomains()})

	default:
		b.renderError(w, apierror.BadView(name))
	}
}

// handleOther serves the endpoints that return raw payloads rather than
// JSON results.
func (b *Bridge) handleOther(w http.ResponseWriter, r *http.Request) {
	switch name := chi.URLParam(r, "name"); name {
	case otherChangesInHTML:
		body := []byte(b.changelog)
		for k, vs := range b.engine.ResponseHeaders("text/html; charset=UTF-8", len(body), false) {
			w.Header()[k] = vs
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			b.log.Error("failed to write changelog response", zap.Error(err))
			return
		}
		if err := b.state.ClearNewChangelog(); err != nil {
			// The fragment was already served; just log the stale flag.
			b.log.Error("failed to clear changelog flag", zap.Error(err))
		}

	default:
		b.renderError(w, apierror.BadView(name))
	}
}
