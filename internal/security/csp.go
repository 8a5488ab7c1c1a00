package security

import (
	"strings"
)

const (
	// CSPHeader enforces the policy
	CSPHeader = "Content-Security-Policy"
	// CSPReportOnlyHeader only reports violations
	CSPReportOnlyHeader = "Content-Security-Policy-Report-Only"

	// CSPReportPath receives violation reports from browsers
	CSPReportPath = "/api/csp-report"
	// CSPReportGroup is the Report-To group name referenced by the policy
	CSPReportGroup = "csp-endpoint"

	sourceSelf          = "'self'"
	sourceNone          = "'none'"
	sourceUnsafeInline  = "'unsafe-inline'"
	sourceUnsafeEval    = "'unsafe-eval'"
	sourceStrictDynamic = "'strict-dynamic'"
	googleFontsStyles   = "https://fonts.googleapis.com"
	googleFontsFiles    = "https://fonts.gstatic.com"
	upgradeInsecureReqs = "upgrade-insecure-requests"
	directiveReportURI  = "report-uri"
	directiveReportTo   = "report-to"
	directiveScriptSrc  = "script-src"
	directiveStyleSrc   = "style-src"
	directiveImgSrc     = "img-src"
	directiveFontSrc    = "font-src"
	directiveConnectSrc = "connect-src"
)

// devConnectSources lets hot-reload tooling reach local dev servers
var devConnectSources = []string{
	"http://localhost:*",
	"ws://localhost:*",
	"http://127.0.0.1:*",
	"ws://127.0.0.1:*",
}

// Directive is one CSP directive and its source list
type Directive struct {
	Name    string
	Sources []string
}

// Directives is an ordered CSP directive set
type Directives []Directive

// Get returns the sources for name and whether the directive is present.
func (d Directives) Get(name string) ([]string, bool) {
	for _, dir := range d {
		if dir.Name == name {
			return dir.Sources, true
		}
	}
	return nil, false
}

// String serializes the policy as "name v1 v2; name2 v1".
func (d Directives) String() string {
	parts := make([]string, 0, len(d))
	for _, dir := range d {
		if len(dir.Sources) == 0 {
			parts = append(parts, dir.Name)
			continue
		}
		parts = append(parts, dir.Name+" "+strings.Join(dir.Sources, " "))
	}
	return strings.Join(parts, "; ")
}

// PolicyConfig is the static part of the policy, fixed at startup.
type PolicyConfig struct {
	Development bool
	// ReportOnly switches the header to Content-Security-Policy-Report-Only
	ReportOnly bool

	ScriptHashes []string
	StyleHashes  []string

	ImageSources   []string
	FontSources    []string
	ConnectSources []string
}

// DefaultPolicyConfig returns the site policy with the static hash allowlist.
// imageOrigin and apiOrigin may be empty.
func DefaultPolicyConfig(development bool, imageOrigin, apiOrigin string) PolicyConfig {
	cfg := PolicyConfig{
		Development:    development,
		ScriptHashes:   StaticScriptHashes(),
		StyleHashes:    StaticStyleHashes(),
		ImageSources:   []string{sourceSelf, "data:", "blob:"},
		FontSources:    []string{sourceSelf, googleFontsFiles, "data:"},
		ConnectSources: []string{sourceSelf},
	}
	if imageOrigin != "" {
		cfg.ImageSources = append(cfg.ImageSources, imageOrigin)
	}
	if apiOrigin != "" {
		cfg.ConnectSources = append(cfg.ConnectSources, apiOrigin)
	}
	return cfg
}

// PolicyBuilder assembles per-request policies. It owns every CSP header the
// gateway emits; callers without a nonce get the hash-only policy.
type PolicyBuilder struct {
	cfg PolicyConfig
}

// NewPolicyBuilder creates a builder for cfg.
func NewPolicyBuilder(cfg PolicyConfig) *PolicyBuilder {
	return &PolicyBuilder{cfg: cfg}
}

// HeaderName returns the CSP header to emit.
func (b *PolicyBuilder) HeaderName() string {
	if b.cfg.ReportOnly {
		return CSPReportOnlyHeader
	}
	return CSPHeader
}

// Build returns the directive set for one response. Identical inputs always
// produce identical output.
func (b *PolicyBuilder) Build(nonce string, extraScriptHashes, extraStyleHashes []string) Directives {
	dev := b.cfg.Development

	scriptSrc := []string{sourceSelf}
	styleSrc := []string{sourceSelf, googleFontsStyles}
	if dev {
		scriptSrc = append(scriptSrc, sourceUnsafeInline, sourceUnsafeEval)
		styleSrc = append(styleSrc, sourceUnsafeInline)
	} else {
		if nonce != "" {
			scriptSrc = append(scriptSrc, "'nonce-"+nonce+"'", sourceStrictDynamic)
			styleSrc = append(styleSrc, "'nonce-"+nonce+"'")
		}
		scriptSrc = append(scriptSrc, b.cfg.ScriptHashes...)
		scriptSrc = append(scriptSrc, extraScriptHashes...)
		styleSrc = append(styleSrc, b.cfg.StyleHashes...)
		styleSrc = append(styleSrc, extraStyleHashes...)
	}

	connectSrc := append([]string(nil), b.cfg.ConnectSources...)
	if dev {
		connectSrc = append(connectSrc, devConnectSources...)
	}

	d := Directives{
		{Name: "default-src", Sources: []string{sourceSelf}},
		{Name: directiveScriptSrc, Sources: scriptSrc},
		{Name: directiveStyleSrc, Sources: styleSrc},
		{Name: directiveImgSrc, Sources: append([]string(nil), b.cfg.ImageSources...)},
		{Name: directiveFontSrc, Sources: append([]string(nil), b.cfg.FontSources...)},
		{Name: directiveConnectSrc, Sources: connectSrc},
		{Name: "object-src", Sources: []string{sourceNone}},
		{Name: "base-uri", Sources: []string{sourceSelf}},
		{Name: "form-action", Sources: []string{sourceSelf}},
		{Name: "frame-ancestors", Sources: []string{sourceNone}},
		{Name: "frame-src", Sources: []string{sourceNone}},
		{Name: "media-src", Sources: []string{sourceSelf}},
		{Name: "worker-src", Sources: []string{sourceSelf, "blob:"}},
		{Name: "child-src", Sources: []string{sourceSelf, "blob:"}},
		{Name: "manifest-src", Sources: []string{sourceSelf}},
		{Name: directiveReportURI, Sources: []string{CSPReportPath}},
		{Name: directiveReportTo, Sources: []string{CSPReportGroup}},
	}
	if !dev {
		d = append(d, Directive{Name: upgradeInsecureReqs})
	}
	return d
}
