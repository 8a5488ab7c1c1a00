// Package reporting parses CSP violation reports and forwards them to sinks.
package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"
)

const (
	// ContentTypeLegacy is sent by browsers honoring report-uri
	ContentTypeLegacy = "application/csp-report"
	// ContentTypeReports is sent by browsers honoring report-to (Reporting API)
	ContentTypeReports = "application/reports+json"
)

var ErrMalformedReport = errors.New("malformed CSP report")

// Violation is one normalized CSP violation
type Violation struct {
	DocumentURI        string    `json:"document_uri"`
	Referrer           string    `json:"referrer,omitempty"`
	BlockedURI         string    `json:"blocked_uri"`
	EffectiveDirective string    `json:"effective_directive"`
	ViolatedDirective  string    `json:"violated_directive,omitempty"`
	OriginalPolicy     string    `json:"original_policy,omitempty"`
	Disposition        string    `json:"disposition,omitempty"`
	SourceFile         string    `json:"source_file,omitempty"`
	LineNumber         int       `json:"line_number,omitempty"`
	ColumnNumber       int       `json:"column_number,omitempty"`
	StatusCode         int       `json:"status_code,omitempty"`
	Sample             string    `json:"sample,omitempty"`
	UserAgent          string    `json:"user_agent,omitempty"`
	ReceivedAt         time.Time `json:"received_at"`
}

// legacyReport is the report-uri body: {"csp-report": {...}}
type legacyReport struct {
	Body struct {
		DocumentURI        string `json:"document-uri"`
		Referrer           string `json:"referrer"`
		BlockedURI         string `json:"blocked-uri"`
		EffectiveDirective string `json:"effective-directive"`
		ViolatedDirective  string `json:"violated-directive"`
		OriginalPolicy     string `json:"original-policy"`
		Disposition        string `json:"disposition"`
		SourceFile         string `json:"source-file"`
		LineNumber         int    `json:"line-number"`
		ColumnNumber       int    `json:"column-number"`
		StatusCode         int    `json:"status-code"`
		ScriptSample       string `json:"script-sample"`
	} `json:"csp-report"`
}

// apiReport is one entry of a Reporting API batch
type apiReport struct {
	Type      string `json:"type"`
	UserAgent string `json:"user_agent"`
	Body      struct {
		DocumentURL        string `json:"documentURL"`
		Referrer           string `json:"referrer"`
		BlockedURL         string `json:"blockedURL"`
		EffectiveDirective string `json:"effectiveDirective"`
		OriginalPolicy     string `json:"originalPolicy"`
		Disposition        string `json:"disposition"`
		SourceFile         string `json:"sourceFile"`
		LineNumber         int    `json:"lineNumber"`
		ColumnNumber       int    `json:"columnNumber"`
		StatusCode         int    `json:"statusCode"`
		Sample             string `json:"sample"`
	} `json:"body"`
}

// Parse decodes a report body in either browser format. Reporting API
// entries of other types are skipped.
func Parse(contentType string, body []byte, now time.Time) ([]Violation, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case ContentTypeReports:
		return parseReportsAPI(body, now)
	case ContentTypeLegacy, "application/json":
		v, err := parseLegacy(body, now)
		if err != nil {
			return nil, err
		}
		return []Violation{v}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformedReport, contentType)
	}
}

func parseLegacy(body []byte, now time.Time) (Violation, error) {
	var r legacyReport
	if err := json.Unmarshal(body, &r); err != nil {
		return Violation{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	b := r.Body
	if b.DocumentURI == "" && b.EffectiveDirective == "" && b.ViolatedDirective == "" {
		return Violation{}, fmt.Errorf("%w: missing csp-report body", ErrMalformedReport)
	}

	directive := b.EffectiveDirective
	if directive == "" {
		// older browsers only send violated-directive, e.g. "script-src 'self'"
		directive, _, _ = strings.Cut(b.ViolatedDirective, " ")
	}

	return Violation{
		DocumentURI:        b.DocumentURI,
		Referrer:           b.Referrer,
		BlockedURI:         b.BlockedURI,
		EffectiveDirective: directive,
		ViolatedDirective:  b.ViolatedDirective,
		OriginalPolicy:     b.OriginalPolicy,
		Disposition:        b.Disposition,
		SourceFile:         b.SourceFile,
		LineNumber:         b.LineNumber,
		ColumnNumber:       b.ColumnNumber,
		StatusCode:         b.StatusCode,
		Sample:             b.ScriptSample,
		ReceivedAt:         now.UTC(),
	}, nil
}

func parseReportsAPI(body []byte, now time.Time) ([]Violation, error) {
	var reports []apiReport
	if err := json.Unmarshal(body, &reports); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}

	out := make([]Violation, 0, len(reports))
	for _, r := range reports {
		if r.Type != "csp-violation" {
			continue
		}
		out = append(out, Violation{
			DocumentURI:        r.Body.DocumentURL,
			Referrer:           r.Body.Referrer,
			BlockedURI:         r.Body.BlockedURL,
			EffectiveDirective: r.Body.EffectiveDirective,
			OriginalPolicy:     r.Body.OriginalPolicy,
			Disposition:        r.Body.Disposition,
			SourceFile:         r.Body.SourceFile,
			LineNumber:         r.Body.LineNumber,
			ColumnNumber:       r.Body.ColumnNumber,
			StatusCode:         r.Body.StatusCode,
			Sample:             r.Body.Sample,
			UserAgent:          r.UserAgent,
			ReceivedAt:         now.UTC(),
		})
	}
	return out, nil
}

// Sink receives parsed violations
type Sink interface {
	Publish(ctx context.Context, v Violation) error
}

// LogSink writes violations to the structured logger
type LogSink struct{}

// Publish logs v at warn level
func (LogSink) Publish(ctx context.Context, v Violation) error {
	slog.WarnContext(ctx, "csp violation",
		slog.String("directive", v.EffectiveDirective),
		slog.String("blocked_uri", v.BlockedURI),
		slog.String("document_uri", v.DocumentURI),
		slog.String("source_file", v.SourceFile),
		slog.Int("line", v.LineNumber),
		slog.String("disposition", v.Disposition),
	)
	return nil
}
