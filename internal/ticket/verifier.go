package ticket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/colabd/internal/securemem"
	"github.com/golang-jwt/jwt/v5"
)

// consumedEntry records which (user, workspace) pair consumed a jti.
// A consumed ticket only blocks admission for a *different* pair, so the
// original holder can reload and reconnect until the ticket expires.
type consumedEntry struct {
	userID      string
	workspaceID string
	expiresAt   time.Time
}

// Verifier validates join tickets and enforces single-use semantics.
type Verifier struct {
	secret *securemem.String

	mu       sync.Mutex
	consumed map[string]consumedEntry

	// now is swappable for tests.
	now func() time.Time
}

// NewVerifier creates a verifier for the given signing secret. An empty
// secret refuses every admission.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:   securemem.NewString(secret),
		consumed: make(map[string]consumedEntry),
		now:      time.Now,
	}
}

// Verify validates a bearer token. wantWorkspace and wantUser are the
// optional workspace/userId fields of the auth frame; when present they
// must agree with the ticket claims.
func (v *Verifier) Verify(token, wantWorkspace, wantUser string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if v.secret.IsEmpty() {
		// No secret configured (production without env): refuse rather
		// than silently admit.
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyFunc,
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}

	if wantWorkspace != "" && wantWorkspace != claims.WorkspaceID {
		return nil, ErrWorkspaceMismatch
	}
	if wantUser != "" && wantUser != claims.Subject {
		return nil, ErrUserMismatch
	}

	if err := v.consume(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// keyFunc hands the HMAC secret to the JWT parser, rejecting any other
// signing algorithm family.
func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return v.secret.Bytes(), nil
}

// consume applies the replay rule and prunes expired entries. Pruning
// runs on every admission whose ticket passed the signature, claim and
// frame checks; rejected tickets return before it and prune nothing.
func (v *Verifier) consume(claims *Claims) error {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	for jti, entry := range v.consumed {
		if !entry.expiresAt.After(now) {
			delete(v.consumed, jti)
		}
	}

	if entry, ok := v.consumed[claims.ID]; ok {
		if entry.userID != claims.Subject || entry.workspaceID != claims.WorkspaceID {
			return ErrReplay
		}
	}
	v.consumed[claims.ID] = consumedEntry{
		userID:      claims.Subject,
		workspaceID: claims.WorkspaceID,
		expiresAt:   claims.ExpiresAt.Time,
	}
	return nil
}

// ConsumedCount reports the number of live consumed-ticket entries.
func (v *Verifier) ConsumedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.consumed)
}
