package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/models"
)

const (
	ctxIdentity = "identity"
	ctxUserID   = "user_id"
	ctxUserRole = "user_role"
)

// Claims is the bearer token payload. Tokens are issued by the identity
// provider; this service only verifies them.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HMAC-signed bearer tokens.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses the token and maps its claims to an Identity.
func (v *TokenVerifier) Verify(tokenString string) (models.Identity, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return models.Identity{}, err
	}
	if !token.Valid {
		return models.Identity{}, errors.New("token is not valid")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return models.Identity{}, errors.New("token has no subject")
	}

	role, err := parseRole(claims.Role)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{UserID: userID, Role: role}, nil
}

// Sign issues a token; used by tests and local tooling.
func (v *TokenVerifier) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func parseRole(raw string) (models.UserRole, error) {
	switch strings.ToLower(raw) {
	case "student", "":
		return models.RoleStudent, nil
	case "trainer", "teacher", "instructor":
		return models.RoleTrainer, nil
	case "admin":
		return models.RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// AuthMiddleware requires a valid bearer token. Browsers cannot set headers
// on websocket upgrades, so those may pass the token as ?access_token=.
func AuthMiddleware(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		} else if websocket.IsWebSocketUpgrade(c.Request) {
			token = c.Query("access_token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "Missing bearer token", Code: CodeUnauthorized})
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "Invalid token", Details: err.Error(), Code: CodeUnauthorized})
			return
		}

		c.Set(ctxIdentity, identity)
		c.Set(ctxUserID, identity.UserID)
		c.Set(ctxUserRole, string(identity.Role))
		c.Next()
	}
}

// RequireRoles rejects callers whose role is not listed.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated", Code: CodeUnauthorized})
			return
		}
		if !slices.Contains(roles, identity.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Message: "Access denied",
				Details: gin.H{"role": identity.Role, "required": roles},
				Code:    CodeForbidden,
			})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the caller stored by AuthMiddleware.
func GetIdentity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(ctxIdentity)
	if !ok {
		return models.Identity{}, false
	}
	identity, ok := v.(models.Identity)
	return identity, ok
}
