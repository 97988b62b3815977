// File: internal/correlate/correlator.go

// Package correlate maps a browsed URL back to aggregated security
// findings: alerts for the exact logical page, and alerts for the site as
// a whole, both bucketed by risk level.
package correlate

import (
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/opsight/hudbridge/internal/sitemodel"
)

// AlertRecord is the full attribute view of a page-scope alert, shaped for
// direct JSON encoding to the browser overlay.
type AlertRecord struct {
	Name     string `json:"name"`
	Risk     string `json:"risk"`
	Param    string `json:"param"`
	ID       string `json:"id"`
	URI      string `json:"uri"`
	Evidence string `json:"evidence"`
}

// Summary is the correlation result. Both maps contain exactly one bucket
// per defined risk level, keyed by the risk label; empty buckets are
// present, not omitted. Page-scope buckets carry full records, site-scope
// buckets deliberately carry bare alert names only.
type Summary struct {
	PageAlerts map[string][]AlertRecord `json:"pageAlerts"`
	SiteAlerts map[string][]string      `json:"siteAlerts"`
}

// Correlator reads the site tree owned by the scanning subsystem. It keeps
// no state of its own, so a single instance serves concurrent requests.
type Correlator struct {
	tree *sitemodel.Tree
	log  *zap.Logger
}

// New returns a correlator over the given tree.
func New(tree *sitemodel.Tree, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{tree: tree, log: logger.Named("correlate")}
}

// Summarize produces the page-scope and site-scope alert buckets for a URL.
// A URL with no matching node yields empty buckets; only a malformed URL is
// an error (sitemodel.ErrMalformedURL).
func (c *Correlator) Summarize(rawURL string) (*Summary, error) {
	if !sitemodel.ValidURL(rawURL) {
		return nil, sitemodel.ErrMalformedURL
	}

	summary := &Summary{
		PageAlerts: make(map[string][]AlertRecord, 4),
		SiteAlerts: make(map[string][]string, 4),
	}
	for _, risk := range sitemodel.RiskLevels() {
		summary.PageAlerts[risk.String()] = []AlertRecord{}
		summary.SiteAlerts[risk.String()] = []string{}
	}

	c.collectPageAlerts(rawURL, summary)
	c.collectSiteAlerts(rawURL, summary)
	return summary, nil
}

// collectPageAlerts gathers alerts scoped to the exact logical page. All
// siblings sharing the node's hierarchic name represent the same page with
// different query strings; their alerts are pooled and deduplicated by id.
func (c *Correlator) collectPageAlerts(rawURL string, summary *Summary) {
	node, ok := c.tree.FindNode(rawURL)
	if !ok {
		return
	}
	cleanName := c.tree.HierarchicName(node)
	parent, ok := c.tree.Parent(node)
	if !ok || cleanName == "" {
		// The node vanished under us; empty buckets are the answer.
		return
	}

	seen := make(map[int]bool)
	buckets := make(map[sitemodel.Risk][]*sitemodel.Alert)
	for _, sibling := range c.tree.Children(parent) {
		if c.tree.HierarchicName(sibling) != cleanName {
			continue
		}
		for _, alert := range c.tree.Alerts(sibling) {
			// Re-resolve the alert's own URI and confirm it still maps to
			// this page. Redundant when the tree is quiescent, but the
			// scanner mutates it concurrently, so the sibling match alone
			// is not trusted.
			alertNode, ok := c.tree.FindNode(alert.URI)
			if !ok || c.tree.HierarchicName(alertNode) != cleanName {
				continue
			}
			if !alert.Risk.Valid() {
				c.log.Warn("alert with unknown risk level skipped",
					zap.Int("alert_id", alert.ID), zap.Int("risk", int(alert.Risk)))
				continue
			}
			if seen[alert.ID] {
				continue
			}
			seen[alert.ID] = true
			buckets[alert.Risk] = append(buckets[alert.Risk], alert)
		}
	}

	for risk, alerts := range buckets {
		sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
		records := make([]AlertRecord, 0, len(alerts))
		for _, a := range alerts {
			records = append(records, AlertRecord{
				Name:     a.Name,
				Risk:     a.Risk.String(),
				Param:    a.Param,
				ID:       strconv.Itoa(a.ID),
				URI:      a.URI,
				Evidence: a.Evidence,
			})
		}
		summary.PageAlerts[risk.String()] = records
	}
}

// collectSiteAlerts gathers alerts for the whole site: everything attached
// anywhere under the top-level node, deduplicated by alert name only.
func (c *Correlator) collectSiteAlerts(rawURL string, summary *Summary) {
	parent, ok := c.tree.FindClosestParent(rawURL)
	if !ok {
		return
	}
	top, ok := c.tree.TopLevelAncestor(parent)
	if !ok {
		return
	}

	names := make(map[sitemodel.Risk]map[string]bool)
	for _, alert := range c.tree.SubtreeAlerts(top) {
		if !alert.Risk.Valid() {
			continue
		}
		if names[alert.Risk] == nil {
			names[alert.Risk] = make(map[string]bool)
		}
		names[alert.Risk][alert.Name] = true
	}

	for risk, set := range names {
		bucket := make([]string, 0, len(set))
		for name := range set {
			bucket = append(bucket, name)
		}
		sort.Strings(bucket)
		summary.SiteAlerts[risk.String()] = bucket
	}
}
