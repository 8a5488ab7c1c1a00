package security

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"
)

const (
	// CSRFCookieName is shared with the auth layer of the web application
	CSRFCookieName = "next-auth.csrf-token"
	// CSRFHeaderName is the header clients echo the token back in
	CSRFHeaderName = "X-CSRF-Token"
	// CSRFBodyField is the form/JSON field clients echo the token back in
	CSRFBodyField = "csrfToken"

	csrfTokenBytes = 32
	// CSRFTokenLength is the hex-encoded token length
	CSRFTokenLength = csrfTokenBytes * 2
	// CSRFTokenTTL is the cookie lifetime
	CSRFTokenTTL = 24 * time.Hour

	// maxTokenBodyBytes caps how much of a request body is buffered while looking for a token
	maxTokenBodyBytes = 1 << 20
)

// TokenStore issues CSRF tokens and checks them with the double-submit
// cookie pattern. No server-side state is kept: the cookie is the source of
// truth and the caller must echo it back in a header or body field.
type TokenStore struct {
	secure bool
}

// NewTokenStore creates a token store. secure controls the cookie Secure flag
// and should be true in production.
func NewTokenStore(secure bool) *TokenStore {
	return &TokenStore{secure: secure}
}

// Generate creates a cryptographically secure random CSRF token (256 bits).
// The token is returned as a 64-character hex string.
func (ts *TokenStore) Generate() (string, error) {
	randomBytes := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}

// CookieToken returns the token carried in the request cookie, or "" when the
// cookie is missing.
func (ts *TokenStore) CookieToken(r *http.Request) string {
	c, err := r.Cookie(CSRFCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// IssueIfAbsent returns the request's cookie token when it is well formed,
// otherwise a freshly generated one. It never fails.
func (ts *TokenStore) IssueIfAbsent(r *http.Request) string {
	if token := ts.CookieToken(r); wellFormed(token) {
		return token
	}
	token, err := ts.Generate()
	if err != nil {
		panic("security: crypto/rand unavailable: " + err.Error())
	}
	return token
}

// Attach sets the token cookie on the response.
func (ts *TokenStore) Attach(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(CSRFTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   ts.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ExtractCallerToken looks for the caller-supplied token in the X-CSRF-Token
// header, then in a form-urlencoded body, then in a JSON body. The body is
// restored so downstream handlers can read it again. Parse failures yield "".
func (ts *TokenStore) ExtractCallerToken(r *http.Request) string {
	if token := r.Header.Get(CSRFHeaderName); token != "" {
		return token
	}
	if r.Body == nil {
		return ""
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		body := peekBody(r)
		// pairs that did parse are kept even when another one is malformed
		values, _ := url.ParseQuery(string(body))
		return values.Get(CSRFBodyField)
	case "application/json":
		body := peekBody(r)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		token, _ := payload[CSRFBodyField].(string)
		return token
	}
	return ""
}

// Validate reports whether the caller token matches the cookie token. Both
// must be present, equal length and valid hex; the decoded bytes are compared
// in constant time.
func (ts *TokenStore) Validate(cookieToken, callerToken string) bool {
	if cookieToken == "" || callerToken == "" {
		return false
	}
	if len(cookieToken) != len(callerToken) {
		return false
	}

	a, err := hex.DecodeString(cookieToken)
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(callerToken)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// wellFormed reports whether token is CSRFTokenLength hex characters
func wellFormed(token string) bool {
	if len(token) != CSRFTokenLength {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// peekBody reads up to maxTokenBodyBytes of the body and puts the full
// stream back on the request.
func peekBody(r *http.Request) []byte {
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBodyBytes))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body))
	if err != nil {
		return nil
	}
	return buf
}
