// File: internal/assets/engine.go

// Package assets is the hardened delivery pipeline for browser-side HUD
// files. It resolves a named asset from the live script store or the
// static asset tree, applies a fixed, file-identity-keyed set of token
// substitutions, and builds the response headers.
//
// The core defense is an asymmetry: substitutions that assume "served from
// the bridge's own trusted origin" (WebSocket URL, tool manifest, layout
// options, locale, dev flag, management fields) are guarded by a single
// check on the request URL. Assets allowed onto hostile target pages
// receive only the minimal URL + secret tokens.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/opsight/hudbridge/internal/config"
	"github.com/opsight/hudbridge/internal/origintrust"
	"github.com/opsight/hudbridge/internal/scriptstore"
	"github.com/opsight/hudbridge/internal/stats"
)

// ErrNotFound is returned when neither the live script store nor the
// static asset tree has the requested file.
var ErrNotFound = errors.New("asset not found")

// OptionReader supplies UI layout option values from external storage.
type OptionReader interface {
	UIOption(key string) (string, error)
}

// WebSocketURLProvider supplies the live-push callback URL on demand.
type WebSocketURLProvider interface {
	CallbackURL() string
}

// RenderContext carries the per-request values substitution depends on.
type RenderContext struct {
	// RequestURL is the absolute URL the asset was requested from.
	RequestURL string
	// Referrer is the cross-origin referrer header, when present. It
	// identifies the real target page for the injected script.
	Referrer string
}

type valueProvider func(rc RenderContext) string

type substitution struct {
	token string
	value valueProvider
}

// assetRule is the registration-table entry for one asset identity.
type assetRule struct {
	// trustedOnly rules apply only when the request is rooted at the
	// bridge's own callback namespace, never on a target-hosted path.
	trustedOnly bool
	subs        []substitution
	onServe     func()
}

// Engine resolves, templates and headers HUD assets. Construct once and
// share; all state is read-only after New.
type Engine struct {
	hud     config.HUDConfig
	server  config.ServerConfig
	trust   *origintrust.Service
	scripts scriptstore.Source
	options OptionReader
	stats   stats.Sink
	wsURL   WebSocketURLProvider
	log     *zap.Logger

	filesBaseURL string
	tutorialURL  string
	rules        map[string]assetRule
}

// New builds the engine and its substitution table.
func New(
	hud config.HUDConfig,
	server config.ServerConfig,
	trust *origintrust.Service,
	scripts scriptstore.Source,
	options OptionReader,
	sink stats.Sink,
	wsURL WebSocketURLProvider,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		hud:          hud,
		server:       server,
		trust:        trust,
		scripts:      scripts,
		options:      options,
		stats:        sink,
		wsURL:        wsURL,
		log:          logger.Named("assets"),
		filesBaseURL: server.TrustedOrigin + server.CallbackPath + "/files",
		tutorialURL:  fmt.Sprintf("http://%s:%d", hud.TutorialHost, hud.TutorialPort),
	}
	e.rules = e.buildRules()
	return e
}

// FilesBaseURL is where the trusted origin serves HUD files from.
func (e *Engine) FilesBaseURL() string { return e.filesBaseURL }

// TutorialURL is the root of the bundled tutorial site.
func (e *Engine) TutorialURL() string { return e.tutorialURL }

func (e *Engine) activeSecret() string {
	return e.trust.ActiveSecret(e.hud.TutorialTestMode)
}

func (e *Engine) buildRules() map[string]assetRule {
	return map[string]assetRule{
		InjectScript: {
			// The one asset embedded into hostile pages: URL and
			// secret only.
			subs: []substitution{
				{TokenURL, e.targetURL},
				{TokenSharedSecret, func(RenderContext) string { return e.activeSecret() }},
			},
		},
		ServiceWorkerScript: {
			trustedOnly: true,
			subs: []substitution{
				{TokenTools, func(RenderContext) string { return e.toolManifest() }},
				{TokenToolsLeft, e.optionValue(UIOptionLeftPanel)},
				{TokenToolsRight, e.optionValue(UIOptionRightPanel)},
				{TokenDrawer, e.optionValue(UIOptionDrawer)},
			},
			onServe: func() { e.stats.IncCounter(stats.StatServiceWorker) },
		},
		I18nScript: {
			trustedOnly: true,
			subs: []substitution{
				{TokenLocale, func(RenderContext) string { return e.hud.Locale }},
			},
		},
		UtilsScript: {
			trustedOnly: true,
			subs: []substitution{
				{TokenDevMode, func(RenderContext) string { return fmt.Sprintf("%t", e.hud.DevelopmentMode) }},
			},
		},
		ManagementScript: {
			trustedOnly: true,
			subs: []substitution{
				{TokenShowWelcome, func(RenderContext) string { return fmt.Sprintf("%t", e.hud.ShowWelcomeScreen) }},
				{TokenTutorialURL, func(RenderContext) string { return e.tutorialURL }},
				// An empty secret turns off on-domain messaging in
				// the browser rather than signalling an error.
				{TokenSharedSecret, func(RenderContext) string {
					if e.hud.EnableOnDomainMessages {
						return e.activeSecret()
					}
					return ""
				}},
			},
		},
		ManagementHTML: {
			trustedOnly: true,
			// Record that the HUD was started, once rather than per hit.
			onServe: func() { e.stats.SetHighwaterMark(stats.StatStart, 0) },
		},
	}
}

// Serve resolves and renders the named asset for a request. A missing or
// unreadable asset is logged and reported as ErrNotFound, never propagated
// as a fatal error.
func (e *Engine) Serve(file string, rc RenderContext) (string, error) {
	contents, err := e.resolve(file)
	if err != nil {
		return "", err
	}
	return e.render(file, contents, rc), nil
}

// resolve tries the live script store first, then the static asset tree.
func (e *Engine) resolve(file string) (string, error) {
	if contents, ok := e.scripts.Contents(file); ok {
		return contents, nil
	}
	path := filepath.Join(e.hud.BaseDirectory, filepath.FromSlash(file))
	data, err := os.ReadFile(path)
	if err != nil {
		e.log.Error("failed to resolve asset", zap.String("file", file), zap.String("path", path), zap.Error(err))
		return "", ErrNotFound
	}
	return string(data), nil
}

// render applies the substitution table. The trusted-origin restriction is
// one guard around the whole table, not per-token conditionals.
func (e *Engine) render(file, contents string, rc RenderContext) string {
	fromTrusted := e.fromTrustedOrigin(rc.RequestURL)

	if rule, ok := e.rules[file]; ok && (!rule.trustedOnly || fromTrusted) {
		for _, sub := range rule.subs {
			contents = strings.ReplaceAll(contents, sub.token, sub.value(rc))
		}
		if rule.onServe != nil {
			rule.onServe()
		}
	}

	// The files base URL is substituted in every asset regardless of
	// identity or origin.
	contents = strings.ReplaceAll(contents, TokenFilesBase, e.filesBaseURL)

	if fromTrusted {
		contents = strings.ReplaceAll(contents, TokenWebSocket, e.wsURL.CallbackURL())
	}
	return contents
}

// fromTrustedOrigin reports whether the request URL is rooted at the
// bridge's own origin.
func (e *Engine) fromTrustedOrigin(requestURL string) bool {
	return strings.HasPrefix(requestURL, e.server.TrustedOrigin)
}

// targetURL reconstructs the page the injected script runs on: the
// cross-origin referrer when present (escaped, it is attacker text),
// otherwise the request URL with any trailing callback path stripped.
func (e *Engine) targetURL(rc RenderContext) string {
	if rc.Referrer != "" {
		return escapeJS(rc.Referrer)
	}
	url := rc.RequestURL
	if i := strings.Index(url, e.server.CallbackPath); i > 0 {
		url = url[:i]
	}
	return url
}

// optionValue reads a UI layout option, degrading to empty on failure.
func (e *Engine) optionValue(key string) valueProvider {
	return func(RenderContext) string {
		v, err := e.options.UIOption(key)
		if err != nil {
			e.log.Error("failed to read ui option", zap.String("key", key), zap.Error(err))
			return ""
		}
		return v
	}
}

// toolManifest lists the tool scripts under the fixed tools directory,
// each formatted as a quoted URL entry for the service worker's precache
// list. A listing failure degrades to an empty manifest.
func (e *Engine) toolManifest() string {
	dir := filepath.Join(e.hud.BaseDirectory, "tools")
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.log.Error("failed to list tools directory", zap.String("dir", dir), zap.Error(err))
		return ""
	}
	var sb strings.Builder
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".js") {
			continue
		}
		sb.WriteString("\t\"")
		sb.WriteString(e.filesBaseURL)
		sb.WriteString("/tools/")
		sb.WriteString(name)
		sb.WriteString("\",\n")
	}
	return sb.String()
}
