package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/metrics"
)

// DefaultMaxNodes bounds how much of a browser's content tree is visited per event.
const DefaultMaxNodes = 2000

// urlSuffixes are the top-level domains that mark scheme-less text as a URL.
var urlSuffixes = []string{".com", ".net", ".org", ".io", ".de", ".app"}

// DetectorConfig configures browser circumvention detection.
type DetectorConfig struct {
	Browsers        []string
	ServiceDomain   string
	RestrictedAppID string // sourceApp of synthesized signals
	MaxNodes        int
}

// BrowserDetector finds the restricted service open in a browser.
type BrowserDetector struct {
	browsers      map[string]struct{}
	serviceDomain string
	restrictedApp string
	maxNodes      int
	trees         domain.ContentTreeReader
	control       domain.PlatformControl
	logger        *zap.Logger
}

// NewBrowserDetector creates a detector over the platform's content trees.
func NewBrowserDetector(
	cfg DetectorConfig,
	trees domain.ContentTreeReader,
	control domain.PlatformControl,
	logger *zap.Logger,
) *BrowserDetector {
	browsers := make(map[string]struct{}, len(cfg.Browsers))
	for _, b := range cfg.Browsers {
		browsers[b] = struct{}{}
	}
	maxNodes := cfg.MaxNodes
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	return &BrowserDetector{
		browsers:      browsers,
		serviceDomain: strings.ToLower(cfg.ServiceDomain),
		restrictedApp: cfg.RestrictedAppID,
		maxNodes:      maxNodes,
		trees:         trees,
		control:       control,
		logger:        logger,
	}
}

// IsBrowser reports whether app is on the browser allow-list.
func (d *BrowserDetector) IsBrowser(app string) bool {
	_, ok := d.browsers[app]
	return ok
}

// Detect scans the browser's rendered tree. When the first URL-shaped text
// references the restricted service, it navigates back and returns a
// synthesized signal for the restricted app.
func (d *BrowserDetector) Detect(ctx context.Context, sig domain.ForegroundSignal) (domain.ForegroundSignal, bool) {
	trees := d.trees
	if sig.Tree != nil {
		trees = sig.Tree
	}
	root, err := trees.Root(ctx, sig.SourceApp)
	if root != nil {
		defer root.Release()
	}
	if err != nil || root == nil {
		if err != nil && !errors.Is(err, domain.ErrTreeUnavailable) {
			d.logger.Debug("content tree read failed",
				zap.String("app", sig.SourceApp),
				zap.Error(err))
		}
		return domain.ForegroundSignal{}, false
	}

	budget := d.maxNodes
	url, found := findURL(root, &budget)
	if !found {
		return domain.ForegroundSignal{}, false
	}
	if d.serviceDomain == "" || !strings.Contains(strings.ToLower(url), d.serviceDomain) {
		return domain.ForegroundSignal{}, false
	}

	metrics.BrowserDetectionsTotal.Inc()
	d.logger.Info("restricted service open in browser",
		zap.String("browser", sig.SourceApp),
		zap.String("url", url))

	if err := d.control.GoBack(ctx); err != nil {
		d.logger.Warn("failed to navigate back", zap.Error(err))
	}

	return domain.ForegroundSignal{
		SourceApp:   d.restrictedApp,
		Kind:        sig.Kind,
		ObservedAt:  sig.ObservedAt,
		Synthesized: true,
	}, true
}

// LooksLikeURL reports whether text starts with an http(s) scheme or ends
// with one of the known top-level domains.
func LooksLikeURL(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return true
	}
	for _, suffix := range urlSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// findURL walks depth-first, pre-order, left to right, and returns the first
// URL-shaped text. budget is decremented per visited node.
func findURL(node domain.ContentNode, budget *int) (string, bool) {
	if *budget <= 0 {
		return "", false
	}
	*budget--

	if text, ok := node.Text(); ok && LooksLikeURL(text) {
		return text, true
	}

	for i := 0; i < node.ChildCount(); i++ {
		if *budget <= 0 {
			return "", false
		}
		if url, found := visitChild(node, i, budget); found {
			return url, true
		}
	}
	return "", false
}

// visitChild acquires one child and releases it on every exit path.
func visitChild(parent domain.ContentNode, i int, budget *int) (string, bool) {
	child, err := parent.Child(i)
	if child == nil {
		return "", false
	}
	defer child.Release()
	if err != nil {
		return "", false
	}

	return findURL(child, budget)
}
