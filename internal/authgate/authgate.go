// Package authgate implements the single-use token to session handshake
// that gates the websocket upgrade and loopback API: a token is exchanged
// exactly once for a session, and every subsequent request is authenticated
// by session cookie plus an exact-origin check.
package authgate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName is the name of the HttpOnly session cookie.
const SessionCookieName = "tugcast_session"

// DefaultSessionTTL is the lifetime of a session created by ConsumeToken.
const DefaultSessionTTL = 24 * time.Hour

const tokenBytes = 32

type session struct {
	expiresAt time.Time
}

// Gate holds the single pending token, the live session set, and the
// allowed origins for this process. Holds of its internal mutex are always
// short; no I/O happens while it is held.
type Gate struct {
	mu            sync.Mutex
	pendingToken  string
	hasPending    bool
	sessions      map[string]session
	sessionTTL    time.Duration
	port          int
	signingKey    []byte
}

// New creates a Gate bound to the given loopback port with a freshly
// generated pending token.
func New(port int) (*Gate, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("authgate: generate signing key: %w", err)
	}
	g := &Gate{
		sessions:   make(map[string]session),
		sessionTTL: DefaultSessionTTL,
		port:       port,
		signingKey: key,
	}
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	g.pendingToken = token
	g.hasPending = true
	return g, nil
}

// GenerateToken produces a token using the same random-hex scheme a Gate
// uses for its pending token, for callers that need one without starting
// a Gate (the standalone keygen subcommand).
func GenerateToken() (string, error) {
	return generateToken()
}

// PendingToken returns the current pending token and whether one exists.
func (g *Gate) PendingToken() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingToken, g.hasPending
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authgate: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

type sessionClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// ConsumeToken validates t against the pending token. On success it clears
// the pending token (single use), creates a session, and returns the signed
// JWT cookie value for it. On failure ok is false and no distinction is
// made between "wrong token" and "already consumed".
func (g *Gate) ConsumeToken(t string) (cookieValue string, ok bool) {
	g.mu.Lock()
	if !g.hasPending || g.pendingToken != t {
		g.mu.Unlock()
		return "", false
	}
	g.hasPending = false
	g.pendingToken = ""

	id, err := generateToken()
	if err != nil {
		g.mu.Unlock()
		return "", false
	}
	expiresAt := time.Now().Add(g.sessionTTL)
	g.sessions[id] = session{expiresAt: expiresAt}
	key := g.signingKey
	g.mu.Unlock()

	claims := sessionClaims{
		SID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", false
	}
	return signed, true
}

// ValidateSession parses and verifies cookieValue as a signed session JWT,
// then checks the claimed session id against the live session map,
// evicting it if expired. Lookup against the map is the authoritative
// check; the signature check only rejects tampering before it happens.
func (g *Gate) ValidateSession(cookieValue string) bool {
	g.mu.Lock()
	key := g.signingKey
	g.mu.Unlock()

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(cookieValue, &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || claims.SID == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	s, found := g.sessions[claims.SID]
	if !found {
		return false
	}
	if time.Now().After(s.expiresAt) {
		delete(g.sessions, claims.SID)
		return false
	}
	return true
}

// CheckOrigin returns true iff origin exactly matches one of the two
// loopback origins for this gate's configured port.
func (g *Gate) CheckOrigin(origin string) bool {
	allowed := [2]string{
		fmt.Sprintf("http://127.0.0.1:%d", g.port),
		fmt.Sprintf("http://localhost:%d", g.port),
	}
	return origin == allowed[0] || origin == allowed[1]
}
