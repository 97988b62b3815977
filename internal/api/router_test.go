// File: internal/api/router_test.go
package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/opsight/hudbridge/internal/assets"
	"github.com/opsight/hudbridge/internal/config"
	"github.com/opsight/hudbridge/internal/correlate"
	"github.com/opsight/hudbridge/internal/origintrust"
	"github.com/opsight/hudbridge/internal/scriptstore"
	"github.com/opsight/hudbridge/internal/sitemodel"
	"github.com/opsight/hudbridge/internal/stats"
	"github.com/opsight/hudbridge/internal/uistate"
)

type apiEnv struct {
	bridge  *Bridge
	srv     *httptest.Server
	tree    *sitemodel.Tree
	state   *uistate.Store
	sink    *stats.Memory
	trust   *origintrust.Service
	scripts *scriptstore.MemoryStore
	cfg     *config.Config
}

type stubWS struct{}

func (stubWS) CallbackURL() string { return "wss://hud/hudCallback/ws" }

func newAPIEnv(t *testing.T, mutate func(*config.Config)) *apiEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.NewDefaultConfig()
	baseDir := t.TempDir()
	cfg.HUD.BaseDirectory = baseDir
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "tools"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "target"), 0o755))
	if mutate != nil {
		mutate(cfg)
	}

	trust, err := origintrust.NewService(logger)
	require.NoError(t, err)

	state, err := uistate.Open(filepath.Join(t.TempDir(), "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })

	scripts := scriptstore.NewMemoryStore()
	sink := stats.NewMemory()
	engine := assets.New(cfg.HUD, cfg.Server, trust, scripts, state, sink, stubWS{}, logger)

	tree := sitemodel.NewTree()
	corr := correlate.New(tree, logger)

	bridge := NewBridge(cfg, trust, engine, corr, state, sink, nil, nil, "<h1>Recent changes</h1>", logger)
	srv := httptest.NewServer(bridge.Router())
	t.Cleanup(srv.Close)

	return &apiEnv{
		bridge:  bridge,
		srv:     srv,
		tree:    tree,
		state:   state,
		sink:    sink,
		trust:   trust,
		scripts: scripts,
		cfg:     cfg,
	}
}

func (env *apiEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(env.srv.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func (env *apiEnv) postForm(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := http.PostForm(env.srv.URL+path, form)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func TestRouterHeartbeat(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, body := env.get(t, "/hudCallback/view/heartbeat")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"Result":"OK"}`, body)
}

func TestRouterUnknownNames(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, body := env.get(t, "/hudCallback/view/noSuchView")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "bad_view")

	resp, body = env.postForm(t, "/hudCallback/action/noSuchAction", url.Values{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "bad_action")

	resp, body = env.get(t, "/nowhere/near/the/callback")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "url_not_found")
}

func TestSetAndGetUIOption(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, _ := env.postForm(t, "/hudCallback/action/setUiOption", url.Values{
		"key":   {"leftPanel"},
		"value": {`["scope","site"]`},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.get(t, "/hudCallback/view/getUiOption?key=leftPanel")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"leftPanel":"[\"scope\",\"site\"]"}`, body)
}

func TestSetUIOptionRejectsBadKeys(t *testing.T) {
	env := newAPIEnv(t, nil)

	// Underscores are outside the accepted alphabet, as is anything
	// longer than fifty characters or empty.
	for _, key := range []string{"left_panel", "", strings.Repeat("k", 51), "drop;table"} {
		resp, body := env.postForm(t, "/hudCallback/action/setUiOption", url.Values{
			"key":   {key},
			"value": {"v"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "key %q", key)
		assert.Contains(t, body, "illegal_parameter", "key %q", key)
	}
}

func TestGetUIOptionRejectsBadKey(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, body := env.get(t, "/hudCallback/view/getUiOption?key=left_panel")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "illegal_parameter")
}

func TestRecordRequest(t *testing.T) {
	env := newAPIEnv(t, nil)

	header := "POST /login HTTP/1.1\r\nHost: example.com\r\nContent-Type: application/x-www-form-urlencoded"
	resp, body := env.postForm(t, "/hudCallback/action/recordRequest", url.Values{
		"header": {header},
		"body":   {"user=admin"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"requestUrl":"https://example.com/login"}`, body)

	rec, ok := env.bridge.recorder.(*MemoryRecorder)
	require.True(t, ok)
	last := rec.Last()
	require.NotNil(t, last)
	assert.Equal(t, http.MethodPost, last.Method)
	assert.Equal(t, int64(len("user=admin")), last.ContentLength)
}

func TestRecordRequestMalformedHeader(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, body := env.postForm(t, "/hudCallback/action/recordRequest", url.Values{
		"header": {"this is not a request line"},
		"body":   {""},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "illegal_parameter")
}

func TestAlertDataView(t *testing.T) {
	env := newAPIEnv(t, nil)

	id, err := env.tree.AddURL("https://example.com/app/page")
	require.NoError(t, err)
	require.NoError(t, env.tree.AddAlert(id, &sitemodel.Alert{
		ID: 7, Name: "X-Frame-Options Missing", Risk: sitemodel.RiskMedium,
		URI: "https://example.com/app/page",
	}))

	resp, body := env.get(t, "/hudCallback/view/hudAlertData?url="+url.QueryEscape("https://example.com/app/page"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summary correlate.Summary
	require.NoError(t, json.Unmarshal([]byte(body), &summary))
	// Every risk bucket is present even when empty.
	for _, risk := range sitemodel.RiskLevels() {
		assert.Contains(t, summary.PageAlerts, risk.String())
		assert.Contains(t, summary.SiteAlerts, risk.String())
	}
	require.Len(t, summary.PageAlerts["Medium"], 1)
	assert.Equal(t, "X-Frame-Options Missing", summary.PageAlerts["Medium"][0].Name)
	assert.Equal(t, []string{"X-Frame-Options Missing"}, summary.SiteAlerts["Medium"])
}

func TestAlertDataViewRejectsMalformedURL(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, body := env.get(t, "/hudCallback/view/hudAlertData?url=not-a-url")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "illegal_parameter")
}

func TestTutorialLifecycle(t *testing.T) {
	env := newAPIEnv(t, nil)

	require.NoError(t, env.state.AddTutorialUpdate("intro"))
	require.NoError(t, env.state.AddTutorialUpdate("alerts"))

	resp, body := env.get(t, "/hudCallback/view/tutorialUpdates")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "intro")
	assert.Contains(t, body, "alerts")

	resp, _ = env.postForm(t, "/hudCallback/action/resetTutorialTasks", url.Values{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpgradedDomainsView(t *testing.T) {
	env := newAPIEnv(t, nil)

	env.bridge.AddUpgradedDomain("example.com")
	env.bridge.AddUpgradedDomain("other.net")
	env.bridge.AddUpgradedDomain("example.com")

	resp, body := env.get(t, "/hudCallback/view/upgradedDomains")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"upgradedDomains":["example.com","other.net"]}`, body)
}

func TestChangesInHTML(t *testing.T) {
	env := newAPIEnv(t, nil)
	require.NoError(t, env.state.SetNewChangelog())

	resp, body := env.get(t, "/hudCallback/other/changesInHtml")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>Recent changes</h1>", body)
	assert.Equal(t, "text/html; charset=UTF-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))

	// Serving the fragment clears the pending flag.
	pending, err := env.state.HasNewChangelog()
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestFilesRoute(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.scripts.Put("panel.html", "<html><body>panel</body></html>")

	resp, body := env.get(t, "/hudCallback/files/panel.html")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><body>panel</body></html>", body)
	assert.Equal(t, "text/html; charset=UTF-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "max-age")
	assert.Equal(t, "GNU Terry Pratchett", resp.Header.Get("X-Clacks-Overhead"))
}

func TestFilesRouteDevelopmentModeDisablesCaching(t *testing.T) {
	env := newAPIEnv(t, func(cfg *config.Config) {
		cfg.HUD.DevelopmentMode = true
	})
	env.scripts.Put("panel.js", "console.log('panel');")

	resp, _ := env.get(t, "/hudCallback/files/panel.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))
}

func TestFilesRouteMissingAsset(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, body := env.get(t, "/hudCallback/files/absent.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "url_not_found")
}

func TestFilesRouteRejectsTraversal(t *testing.T) {
	env := newAPIEnv(t, nil)

	resp, _ := env.get(t, "/hudCallback/files/..%2f..%2fetc%2fpasswd")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// siteKey derives the site identity the bridge sees for requests made
// against the test server.
func (env *apiEnv) siteKey(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(env.srv.URL)
	require.NoError(t, err)
	return "https://" + u.Host
}

func TestDomainFileAllowlist(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.scripts.Put(assets.InjectScript, "var url = '<<URL>>';")

	prefix := env.bridge.URLPrefix(env.siteKey(t))
	token := path.Base(prefix)

	// inject.js is on the allow list and served as javascript.
	resp, body := env.get(t, "/hudCallback/"+token+"/target/inject.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript; charset=UTF-8", resp.Header.Get("Content-Type"))
	assert.NotContains(t, body, "<<URL>>")
	assert.Equal(t, int64(1), env.sink.Counter(stats.StatCallback))

	// Anything else is refused even if it exists under the base dir.
	env.scripts.Put("target/other.js", "nope")
	resp, body = env.get(t, "/hudCallback/"+token+"/target/other.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "url_not_found")
}

func TestDomainFileRequiresIssuedToken(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.scripts.Put(assets.InjectScript, "var url = '<<URL>>';")

	// Nothing has been issued for this site yet; a guessed token is
	// rejected rather than minting a prefix as a side effect.
	resp, body := env.get(t, "/hudCallback/0b54b1b8-d6cb-4502-a9c6-3e0b26d224d0/target/inject.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "url_not_found")

	prefix := env.bridge.URLPrefix(env.siteKey(t))
	token := path.Base(prefix)

	// A token issued to another site does not work here.
	otherToken := path.Base(env.bridge.URLPrefix("https://other.net"))
	resp, _ = env.get(t, "/hudCallback/"+otherToken+"/target/inject.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.get(t, "/hudCallback/"+token+"/target/inject.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Resetting the prefixes invalidates previously issued tokens.
	env.bridge.ResetURLPrefixes()
	resp, _ = env.get(t, "/hudCallback/"+token+"/target/inject.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestURLPrefixStablePerSite(t *testing.T) {
	env := newAPIEnv(t, nil)

	first := env.bridge.URLPrefix("https://example.com")
	assert.True(t, strings.HasPrefix(first, "https://example.com/hudCallback/"))
	assert.Equal(t, first, env.bridge.URLPrefix("https://example.com"))
	assert.NotEqual(t, first, env.bridge.URLPrefix("https://other.net"))

	env.bridge.ResetURLPrefixes()
	assert.NotEqual(t, first, env.bridge.URLPrefix("https://example.com"))
}

func TestURLPrefixConcurrentFirstUse(t *testing.T) {
	env := newAPIEnv(t, nil)

	const workers = 16
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.bridge.URLPrefix("https://example.com")
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestSiteKeyForcesHTTPS(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com:8080/path", nil)
	assert.Equal(t, "https://example.com:8080", SiteKey(r))
}
