package httpapi

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	svcerrors "github.com/acme-industrial/enms-analytics/infrastructure/errors"
	"github.com/acme-industrial/enms-analytics/infrastructure/logging"
)

// AuthConfig wires the optional bearer-auth hook. It is off by default: an
// operator deployment runs unauthenticated unless AUTH_ENABLED=true and
// AUTH_JWT_SECRET is set.
type AuthConfig struct {
	Enabled   bool
	JWTSecret []byte

	// BypassSecretHash, when set, is a bcrypt hash the X-Internal-Bypass
	// header value must match
	// instead of the header's mere presence being sufficient.
	BypassSecretHash string
}

// subjectClaims is the minimal claim set this hook verifies: who, and when
// it expires. A deployment that needs richer claims can swap this for its
// own without touching the rest of the HTTP surface.
type subjectClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// authMiddleware enforces a valid `Authorization: Bearer <jwt>` header when
// cfg.Enabled; it's a no-op otherwise. Verified claims are attached to the
// request context via infrastructure/logging's accessors so downstream
// logging and handlers see the caller identity.
func authMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				writeError(w, r, svcerrors.Unauthorized("missing bearer token"))
				return
			}

			claims := &subjectClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, svcerrors.BadRequest("unexpected signing method")
				}
				return cfg.JWTSecret, nil
			})
			if err != nil || !token.Valid {
				writeError(w, r, svcerrors.InvalidToken(err))
				return
			}

			ctx := logging.WithUserID(r.Context(), claims.Subject)
			if claims.Role != "" {
				ctx = logging.WithRole(ctx, claims.Role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bypassAllowed reports whether the X-Internal-Bypass header on r grants
// rate-limit/throttle bypass. With no hash configured, any
// non-empty header value is accepted (local/dev default, unchanged
// behavior); once BypassSecretHash is set, the header value must match it.
func bypassAllowed(r *http.Request, bypassSecretHash string) bool {
	value := r.Header.Get(bypassHeader)
	if value == "" {
		return false
	}
	if bypassSecretHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(bypassSecretHash), []byte(value)) == nil
}
