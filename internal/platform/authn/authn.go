// Package authn validates bearer tokens and extracts the claims the order,
// courier, and notification REST/WebSocket surfaces need. Token issuance and
// the identity provider itself remain out of scope (spec §1); this package
// only verifies and decodes what it is handed.
package authn

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/timour/order-microservices/internal/platform/apperr"
)

// Role is one of the coarse-grained roles the order state machine gates
// transitions on.
type Role string

const (
	RoleCustomer    Role = "CUSTOMER"
	RoleStoreOwner  Role = "STORE_OWNER"
	RoleCourier     Role = "COURIER"
)

// Principal is the authenticated caller, derived from the token's claims.
type Principal struct {
	UserID  string
	Roles   map[Role]bool
	StoreID string // present only for StoreOwner principals
}

func (p Principal) HasRole(r Role) bool { return p.Roles[r] }

type principalKey struct{}

// WithPrincipal returns a context carrying p, retrievable via FromContext.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext recovers the Principal a Middleware attached to ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Verifier validates a raw bearer token and returns its claims.
type Verifier struct {
	hmacSecret []byte
	rsaPublic  *rsa.PublicKey
	client     string // the resource_access.<client>.roles client id
}

func NewHMACVerifier(secret []byte, client string) *Verifier {
	return &Verifier{hmacSecret: secret, client: client}
}

func NewRSAVerifier(pub *rsa.PublicKey, client string) *Verifier {
	return &Verifier{rsaPublic: pub, client: client}
}

func (v *Verifier) keyFunc(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.hmacSecret == nil {
			return nil, fmt.Errorf("authn: token uses HMAC but verifier is configured for RSA")
		}
		return v.hmacSecret, nil
	case *jwt.SigningMethodRSA:
		if v.rsaPublic == nil {
			return nil, fmt.Errorf("authn: token uses RSA but verifier is configured for HMAC")
		}
		return v.rsaPublic, nil
	default:
		return nil, fmt.Errorf("authn: unsupported signing method %v", t.Header["alg"])
	}
}

// Verify parses and validates rawToken, extracting sub, store_id, and the
// resource_access.<client>.roles claim set.
func (v *Verifier) Verify(rawToken string) (Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, v.keyFunc)
	if err != nil {
		return Principal{}, apperr.Wrap(apperr.AuthN, "invalid bearer token", err)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, apperr.New(apperr.AuthN, "token missing sub claim")
	}

	p := Principal{UserID: sub, Roles: map[Role]bool{}}
	if storeID, ok := claims["store_id"].(string); ok {
		p.StoreID = storeID
	}

	if resourceAccess, ok := claims["resource_access"].(map[string]interface{}); ok {
		if clientAccess, ok := resourceAccess[v.client].(map[string]interface{}); ok {
			if roles, ok := clientAccess["roles"].([]interface{}); ok {
				for _, r := range roles {
					if s, ok := r.(string); ok {
						p.Roles[Role(s)] = true
					}
				}
			}
		}
	}

	return p, nil
}

// Middleware authenticates the Authorization: Bearer header and injects the
// resulting Principal into the request context, refusing unauthenticated
// requests with 401.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"code":"AUTHN","message":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")
			principal, err := v.Verify(raw)
			if err != nil {
				http.Error(w, `{"code":"AUTHN","message":"invalid bearer token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// VerifyHandshakeToken is used by the WebSocket handshake/subscribe frames
// (spec §4.10), which authenticate out-of-band from the net/http middleware
// chain.
func (v *Verifier) VerifyHandshakeToken(rawToken string) (Principal, error) {
	return v.Verify(rawToken)
}
