// File: internal/api/actions.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsight/hudbridge/internal/apierror"
)

// Action, view and other names, mirroring the HUD's browser-side calls.
const (
	actionLog                = "log"
	actionRecordRequest      = "recordRequest"
	actionResetTutorialTasks = "resetTutorialTasks"
	actionSetUIOption        = "setUiOption"

	viewAlertData       = "hudAlertData"
	viewHeartbeat       = "heartbeat"
	viewGetUIOption     = "getUiOption"
	viewTutorialUpdates = "tutorialUpdates"
	viewUpgradedDomains = "upgradedDomains"

	otherChangesInHTML = "changesInHtml"
)

// Request parameter names.
const (
	paramRecord = "record"
	paramHeader = "header"
	paramBody   = "body"
	paramURL    = "url"
	paramKey    = "key"
	paramValue  = "value"
)

// handleAction dispatches the state-changing endpoints.
func (b *Bridge) handleAction(w http.ResponseWriter, r *http.Request) {
	switch name := chi.URLParam(r, "name"); name {
	case actionLog:
		// A diagnostic line from the browser-side HUD code.
		b.log.Info("hud", zap.String("record", r.FormValue(paramRecord)))
		b.renderOK(w)

	case actionRecordRequest:
		req, err := parseRecordedRequest(r.FormValue(paramHeader), r.FormValue(paramBody))
		if err != nil {
			b.renderError(w, apierror.IllegalParameter(paramHeader))
			return
		}
		url, err := b.recorder.RecordRequest(req)
		if err != nil {
			b.renderError(w, apierror.Internal(actionRecordRequest, err))
			return
		}
		b.renderJSON(w, http.StatusOK, map[string]string{"requestUrl": url})

	case actionResetTutorialTasks:
		if err := b.state.ResetTutorialTasks(); err != nil {
			b.renderError(w, apierror.Internal(actionResetTutorialTasks, err))
			return
		}
		b.renderOK(w)

	case actionSetUIOption:
		key := r.FormValue(paramKey)
		value := r.FormValue(paramValue)
		if err := b.state.SetUIOption(key, value); err != nil {
			b.renderError(w, asAPIError(err, paramKey))
			return
		}
		b.renderOK(w)

	default:
		b.renderError(w, apierror.BadAction(name))
	}
}
