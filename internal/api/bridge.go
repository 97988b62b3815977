// File: internal/api/bridge.go

// Package api is the dispatch surface of the bridge: it maps inbound
// action, view, other and file requests onto the trust, templating and
// correlation components, and renders their results as JSON or raw assets.
package api

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/opsight/hudbridge/internal/apierror"
	"github.com/opsight/hudbridge/internal/assets"
	"github.com/opsight/hudbridge/internal/config"
	"github.com/opsight/hudbridge/internal/correlate"
	"github.com/opsight/hudbridge/internal/origintrust"
	"github.com/opsight/hudbridge/internal/sitemodel"
	"github.com/opsight/hudbridge/internal/stats"
	"github.com/opsight/hudbridge/internal/uistate"
	"github.com/opsight/hudbridge/internal/wscallback"
)

// domainFileAllowlist is the only set of files that may be served on a
// target domain.
var domainFileAllowlist = map[string]string{
	"inject.js": assets.InjectScript,
}

// RequestRecorder stores an externally supplied request for later replay
// and returns its reconstructed URL.
type RequestRecorder interface {
	RecordRequest(req *http.Request) (string, error)
}

// MemoryRecorder keeps the most recently recorded request.
type MemoryRecorder struct {
	mu   sync.Mutex
	last *http.Request
}

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

func (m *MemoryRecorder) RecordRequest(req *http.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = req
	return requestURL(req), nil
}

// Last returns the most recently recorded request, if any.
func (m *MemoryRecorder) Last() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Bridge wires the HUD components behind the router. All shared state is
// read-mostly after construction; the URL-prefix cache and upgraded-domain
// set are the only mutable structures and are guarded below.
type Bridge struct {
	cfg      *config.Config
	trust    *origintrust.Service
	engine   *assets.Engine
	corr     *correlate.Correlator
	state    *uistate.Store
	stats    stats.Sink
	hub      *wscallback.Hub
	recorder RequestRecorder
	log      *zap.Logger

	// changelog is the HTML fragment served by the changes endpoint.
	changelog string

	prefixMu    sync.RWMutex
	prefixes    map[string]string
	prefixGroup singleflight.Group

	upgradedMu sync.Mutex
	upgraded   map[string]bool
}

// NewBridge assembles the dispatch surface.
func NewBridge(
	cfg *config.Config,
	trust *origintrust.Service,
	engine *assets.Engine,
	corr *correlate.Correlator,
	state *uistate.Store,
	sink stats.Sink,
	hub *wscallback.Hub,
	recorder RequestRecorder,
	changelog string,
	logger *zap.Logger,
) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NewMemoryRecorder()
	}
	return &Bridge{
		cfg:       cfg,
		trust:     trust,
		engine:    engine,
		corr:      corr,
		state:     state,
		stats:     sink,
		hub:       hub,
		recorder:  recorder,
		log:       logger.Named("api"),
		changelog: changelog,
		prefixes:  make(map[string]string),
		upgraded:  make(map[string]bool),
	}
}

// SiteKey reduces a request to its site identity. The scheme is always
// forced to https; the proxy fakes TLS for plain-http sites, so the HUD
// origin for a site is https regardless of how it was reached.
func SiteKey(r *http.Request) string {
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	return "https://" + host
}

// URLPrefix returns the per-site callback URL prefix, computing and
// caching it on first use. Concurrent first requests for the same site
// collapse into one computation; a redundant recomputation would be
// harmless, a corrupted cache would not.
func (b *Bridge) URLPrefix(site string) string {
	b.prefixMu.RLock()
	prefix, ok := b.prefixes[site]
	b.prefixMu.RUnlock()
	if ok {
		return prefix
	}

	v, _, _ := b.prefixGroup.Do(site, func() (any, error) {
		// The random path element makes per-site callback URLs
		// unguessable to other sites.
		p := site + b.cfg.Server.CallbackPath + "/" + uuid.NewString()
		b.prefixMu.Lock()
		if existing, ok := b.prefixes[site]; ok {
			p = existing
		} else {
			b.prefixes[site] = p
		}
		b.prefixMu.Unlock()
		return p, nil
	})
	return v.(string)
}

// issuedToken returns the random path element bound to a site, or false
// when no prefix has been issued yet. Lookup only; a miss must stay a
// miss so that stale or guessed tokens cannot mint a fresh prefix.
func (b *Bridge) issuedToken(site string) (string, bool) {
	b.prefixMu.RLock()
	prefix, ok := b.prefixes[site]
	b.prefixMu.RUnlock()
	if !ok {
		return "", false
	}
	return prefix[strings.LastIndexByte(prefix, '/')+1:], true
}

// ResetURLPrefixes clears the per-site cache, e.g. on session change.
func (b *Bridge) ResetURLPrefixes() {
	b.prefixMu.Lock()
	defer b.prefixMu.Unlock()
	b.prefixes = make(map[string]string)
}

// AddUpgradedDomain records a domain upgraded from http to https and
// notifies connected HUD frames.
func (b *Bridge) AddUpgradedDomain(domain string) {
	b.upgradedMu.Lock()
	fresh := !b.upgraded[domain]
	b.upgraded[domain] = true
	b.upgradedMu.Unlock()

	if fresh && b.hub != nil {
		b.hub.Broadcast(wscallback.Event{Type: "upgradedDomain", Data: domain})
	}
}

// UpgradedDomains lists recorded upgraded domains, sorted.
func (b *Bridge) UpgradedDomains() []string {
	b.upgradedMu.Lock()
	defer b.upgradedMu.Unlock()
	out := make([]string, 0, len(b.upgraded))
	for d := range b.upgraded {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// parseRecordedRequest rebuilds an HTTP request from a raw header block
// and body supplied by the HUD's replay panel.
func parseRecordedRequest(header, body string) (*http.Request, error) {
	text := strings.TrimRight(header, "\r\n") + "\r\n\r\n" + body
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(text)))
	if err != nil {
		return nil, fmt.Errorf("parsing recorded request: %w", err)
	}
	req.ContentLength = int64(len(body))
	return req, nil
}

// requestURL reconstructs the absolute URL of a parsed request.
func requestURL(req *http.Request) string {
	if req.URL.IsAbs() {
		return req.URL.String()
	}
	return "https://" + req.Host + req.URL.String()
}

// asAPIError converts component failures into the taxonomy.
func asAPIError(err error, param string) *apierror.Error {
	switch {
	case err == nil:
		return nil
	case isIllegalParam(err):
		return apierror.IllegalParameter(param)
	default:
		return apierror.As(err)
	}
}

func isIllegalParam(err error) bool {
	return errors.Is(err, uistate.ErrInvalidKey) || errors.Is(err, sitemodel.ErrMalformedURL)
}
