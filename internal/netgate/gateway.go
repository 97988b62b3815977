// File: internal/netgate/gateway.go

// Package netgate hosts the interception gateway: a MITM proxy that
// plants the in-page assistant into proxied HTML, upgrades plain-http
// sites so every page shares the https origin scheme, and routes
// callback-namespace requests into the bridge instead of upstream.
package netgate

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/opsight/hudbridge/internal/api"
	"github.com/opsight/hudbridge/internal/config"
	"github.com/opsight/hudbridge/internal/sitemodel"
)

// Gateway owns the proxy server and its interception hooks.
type Gateway struct {
	proxy  *goproxy.ProxyHttpServer
	server *http.Server
	bridge *api.Bridge
	sites  *sitemodel.Tree

	// trustedHandler carries the full control plane and is reachable
	// only on the trusted origin; domainHandler exposes nothing but the
	// per-site file endpoint and serves every other host.
	trustedHandler http.Handler
	domainHandler  http.Handler

	cfg *config.Config
	log *zap.Logger
}

// New creates and configures the gateway. With CA material present the
// gateway re-signs TLS traffic and can inject into https pages; without
// it, CONNECT tunnels pass through untouched and only plain http is
// intercepted.
func New(bridge *api.Bridge, sites *sitemodel.Tree, cfg *config.Config, caCert, caKey []byte, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("netgate")

	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = upstreamTransport(log)

	if caCert != nil && caKey != nil {
		if err := configureMITM(caCert, caKey); err != nil {
			return nil, fmt.Errorf("failed to configure MITM capabilities: %w", err)
		}
		log.Info("MITM capabilities enabled.")
	} else {
		log.Warn("CA certificate or key missing, MITM disabled. Operating in tunneling mode.")
	}

	g := &Gateway{
		proxy:          proxy,
		bridge:         bridge,
		sites:          sites,
		trustedHandler: bridge.Router(),
		domainHandler:  bridge.DomainRouter(),
		cfg:            cfg,
		log:            log,
	}
	g.setupHandlers()
	return g, nil
}

func (g *Gateway) setupHandlers() {
	g.proxy.OnRequest().HandleConnectFunc(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if goproxy.GoproxyCa.PrivateKey != nil {
			return goproxy.MitmConnect, host
		}
		return goproxy.OkConnect, host
	})

	g.proxy.OnRequest().DoFunc(g.handleRequest)
	g.proxy.OnResponse().DoFunc(g.handleResponse)
}

// handleRequest routes callback traffic into the bridge and upgrades
// plain-http sites. Everything else proceeds upstream unchanged.
func (g *Gateway) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	g.log.Debug("Gateway intercepted request", zap.String("method", r.Method), zap.String("url", r.URL.String()))

	if g.isCallback(r) {
		return r, g.serveBridge(r)
	}

	if r.URL.Scheme == "http" && !g.isTutorialHost(r.URL.Hostname()) {
		// The assistant only runs on https origins. Record the
		// upgrade and bounce the browser; the TLS side is faked by
		// our own CA from here on.
		domain := r.URL.Hostname()
		g.bridge.AddUpgradedDomain(domain)

		target := *r.URL
		target.Scheme = "https"
		g.log.Info("Upgrading plain-http site", zap.String("domain", domain))

		resp := goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusTemporaryRedirect, "")
		resp.Header.Set("Location", target.String())
		return r, resp
	}

	return r, nil
}

// isCallback reports whether the request belongs to the bridge's
// namespace: any path rooted at the callback path, on any proxied host.
func (g *Gateway) isCallback(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, g.cfg.Server.CallbackPath)
}

func (g *Gateway) isTutorialHost(host string) bool {
	return host == g.cfg.HUD.TutorialHost
}

// serveBridge runs a callback request through the bridge and converts
// the buffered result into a proxy short-circuit response. The full
// control plane answers only on the trusted origin; any other host is
// a page the proxy happens to front, so it gets the restricted router
// and nothing beyond the per-site file endpoint.
func (g *Gateway) serveBridge(r *http.Request) *http.Response {
	handler := g.domainHandler
	if g.fromTrustedOrigin(r) {
		handler = g.trustedHandler
	}
	buf := newResponseBuffer()
	handler.ServeHTTP(buf, r)
	return buf.response(r)
}

func (g *Gateway) fromTrustedOrigin(r *http.Request) bool {
	return api.SiteKey(r) == g.cfg.Server.TrustedOrigin
}

// handleResponse injects the assistant script into proxied HTML pages.
func (g *Gateway) handleResponse(r *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if r == nil {
		errorMsg := "unknown error"
		if ctx.Error != nil {
			errorMsg = ctx.Error.Error()
		}

		reqURL := "unknown"
		if ctx.Req != nil && ctx.Req.URL != nil {
			reqURL = ctx.Req.URL.String()
		}
		g.log.Warn("Gateway received nil response from upstream", zap.String("url", reqURL), zap.Error(ctx.Error))

		if ctx.Req == nil {
			g.log.Error("Critical gateway error: ctx.Req is nil during upstream failure handling.")
			return &http.Response{
				StatusCode: http.StatusBadGateway,
				ProtoMajor: 1,
				ProtoMinor: 1,
				Header:     make(http.Header),
				Body:       io.NopCloser(bytes.NewBufferString(fmt.Sprintf("Gateway error: upstream connection failed and request context lost: %v", errorMsg))),
			}
		}
		return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, fmt.Sprintf("Gateway error: upstream connection failed: %v", errorMsg))
	}

	req := ctx.Req
	if req == nil || req.URL == nil || g.isCallback(req) {
		return r
	}

	g.recordVisit(req, r.StatusCode)

	if !injectable(r) {
		return r
	}

	body, err := io.ReadAll(r.Body)
	closeErr := r.Body.Close()
	if err != nil || closeErr != nil {
		g.log.Error("Failed to read upstream HTML body", zap.String("url", req.URL.String()), zap.Error(errors.Join(err, closeErr)))
		return goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusBadGateway, "Gateway error: failed to read upstream response")
	}

	src := g.bridge.URLPrefix(api.SiteKey(req)) + "/target/inject.js"
	injected := injectScriptTag(body, fmt.Sprintf("<script src=%q></script>", src))

	r.Body = io.NopCloser(bytes.NewReader(injected))
	r.ContentLength = int64(len(injected))
	r.Header.Set("Content-Length", strconv.Itoa(len(injected)))

	// The page's own CSP would block the injected script and the
	// assistant's frames. This is an assessment tool; weakening the
	// page the assessor is already intercepting is the entire point.
	r.Header.Del("Content-Security-Policy")
	r.Header.Del("Content-Security-Policy-Report-Only")

	g.log.Debug("Injected assistant script", zap.String("url", req.URL.String()))
	return r
}

// recordVisit grows the site tree from observed traffic. Only pages the
// origin actually served are recorded; error responses would pollute the
// tree with guessed paths.
func (g *Gateway) recordVisit(req *http.Request, status int) {
	if g.sites == nil || status >= http.StatusBadRequest {
		return
	}
	u := *req.URL
	u.Scheme = "https"
	if u.Host == "" {
		u.Host = req.Host
	}
	if _, err := g.sites.AddURL(u.String()); err != nil {
		g.log.Debug("Skipping unrecordable URL", zap.String("url", req.URL.String()), zap.Error(err))
	}
}

// injectable restricts injection to successful, uncompressed HTML
// documents. Compressed bodies pass through untouched rather than being
// corrupted by a splice.
func injectable(r *http.Response) bool {
	if r.StatusCode != http.StatusOK {
		return false
	}
	if !strings.Contains(r.Header.Get("Content-Type"), "text/html") {
		return false
	}
	return r.Header.Get("Content-Encoding") == ""
}

var (
	headOpenTag  = regexp.MustCompile(`(?i)<head[\s>]`)
	bodyCloseTag = regexp.MustCompile(`(?i)</body>`)
)

// injectScriptTag splices the script tag into an HTML document: right
// after the opening head tag when there is one, otherwise before the
// closing body tag, otherwise prepended to the document.
func injectScriptTag(doc []byte, tag string) []byte {
	if loc := headOpenTag.FindIndex(doc); loc != nil {
		// loc matched "<head" plus one delimiter; find the end of
		// the full opening tag before splicing.
		if end := bytes.IndexByte(doc[loc[0]:], '>'); end >= 0 {
			at := loc[0] + end + 1
			return splice(doc, at, tag)
		}
	}
	if loc := bodyCloseTag.FindIndex(doc); loc != nil {
		return splice(doc, loc[0], tag)
	}
	return append([]byte(tag), doc...)
}

func splice(doc []byte, at int, tag string) []byte {
	out := make([]byte, 0, len(doc)+len(tag))
	out = append(out, doc[:at]...)
	out = append(out, tag...)
	return append(out, doc[at:]...)
}

// Start runs the gateway server. This function blocks until the server
// stops.
func (g *Gateway) Start(addr string) error {
	g.log.Info("Starting interception gateway", zap.String("address", addr))

	// Timeouts on the server side bound slow clients; the write timeout
	// is generous because large proxied downloads flow through it.
	g.server = &http.Server{
		Addr:         addr,
		Handler:      g.proxy,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     zap.NewStdLog(g.log.Named("http_server")),
	}

	err := g.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		g.log.Error("Gateway server error", zap.Error(err))
		return fmt.Errorf("gateway server failed: %w", err)
	}

	g.log.Info("Interception gateway stopped.")
	return nil
}

// Stop gracefully shuts down the gateway server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return errors.New("gateway server not started")
	}
	g.log.Info("Stopping interception gateway...")
	return g.server.Shutdown(ctx)
}

// configureMITM sets up the certificate authority for the proxy.
// Note: This modifies global state within the goproxy library.
func configureMITM(caCert, caKey []byte) error {
	ca, err := tls.X509KeyPair(caCert, caKey)
	if err != nil {
		return fmt.Errorf("invalid CA certificate/key pair: %w", err)
	}
	if len(ca.Certificate) == 0 {
		return errors.New("CA certificate chain is empty")
	}
	if ca.Leaf, err = x509.ParseCertificate(ca.Certificate[0]); err != nil {
		return fmt.Errorf("failed to parse CA certificate leaf: %w", err)
	}

	goproxy.GoproxyCa = ca
	tlsConfig := goproxy.TLSConfigFromCA(&ca)
	goproxy.OkConnect = &goproxy.ConnectAction{Action: goproxy.ConnectAccept, TLSConfig: tlsConfig}
	goproxy.MitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: tlsConfig}
	goproxy.HTTPMitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectHTTPMitm, TLSConfig: tlsConfig}
	goproxy.RejectConnect = &goproxy.ConnectAction{Action: goproxy.ConnectReject, TLSConfig: tlsConfig}
	return nil
}
