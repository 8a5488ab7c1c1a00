package security

import (
	"crypto/sha256"
	"encoding/base64"
)

// Inline content shipped in the root layout. Editing any of these changes its
// hash; the pinned value below must be regenerated (go run ./cmd/csphash)
// or the browser blocks the content.
const (
	ThemeInitScript = "(function(){try{var t=localStorage.getItem('theme');if(t==='dark'||(!t&&window.matchMedia('(prefers-color-scheme: dark)').matches)){document.documentElement.classList.add('dark')}}catch(e){}})();"
	JSFlagScript    = "document.documentElement.setAttribute('data-js','1');"
	BaseInlineStyle = "html{scroll-behavior:smooth}"
	ProgressStyle   = "#nprogress{pointer-events:none}"
)

// InlineSource pairs an inline snippet with the hash pinned in the policy.
type InlineSource struct {
	Name    string
	Kind    string // "script" or "style"
	Content string
	Pinned  string
}

// Stale reports whether the pinned hash no longer matches the content.
func (s InlineSource) Stale() bool {
	return HashSource(s.Content) != s.Pinned
}

var inlineSources = []InlineSource{
	{"ThemeInitScript", "script", ThemeInitScript, "'sha256-ljnAIsCby6j7rOsIP9yMSiHy82Hjl7bbUOGysZrYEt8='"},
	{"JSFlagScript", "script", JSFlagScript, "'sha256-ln7aai8u0wLPNRcxJPOxyQ6RjVMNVsfFHjiHbzH2f40='"},
	{"BaseInlineStyle", "style", BaseInlineStyle, "'sha256-JvuqRMGrZWsGltruEYX+tfrCFeIkUALcWdw+SawjuTg='"},
	{"ProgressStyle", "style", ProgressStyle, "'sha256-kIBfs/zAnYZEYQI3cpHpM0I6awgdCfc9r3XeDac96P4='"},
}

// InlineSources returns a copy of every pinned snippet.
func InlineSources() []InlineSource {
	return append([]InlineSource(nil), inlineSources...)
}

func pinnedHashes(kind string) []string {
	var out []string
	for _, s := range inlineSources {
		if s.Kind == kind {
			out = append(out, s.Pinned)
		}
	}
	return out
}

// StaticScriptHashes returns the inline script allowlist.
func StaticScriptHashes() []string {
	return pinnedHashes("script")
}

// StaticStyleHashes returns the inline style allowlist.
func StaticStyleHashes() []string {
	return pinnedHashes("style")
}

// HashSource returns the CSP hash source ('sha256-<base64>') for inline content.
func HashSource(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "'sha256-" + base64.StdEncoding.EncodeToString(sum[:]) + "'"
}
