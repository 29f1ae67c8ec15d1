package athttp

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang-jwt/jwt/v5/request"
	"github.com/programme-lv/autotest/course"
	"github.com/programme-lv/autotest/credstore"
	"github.com/programme-lv/autotest/httpjson"
	"github.com/programme-lv/autotest/srvcerror"
)

type JwtClaims struct {
	Username string `json:"username,omitempty"`
	RoleID   int64  `json:"role_id"`
	RoleType string `json:"role_type"`
	jwt.RegisteredClaims
}

func (c *JwtClaims) Role() course.Role {
	return course.Role{ID: c.RoleID, Type: c.RoleType}
}

type ClaimsKeyType string

var CtxJwtClaimsKey ClaimsKeyType = "jwtClaims"

func GenerateJWT(username string, role course.Role, jwtKey []byte, ttl time.Duration) (string, error) {
	claims := &JwtClaims{
		Username:         username,
		RoleID:           role.ID,
		RoleType:         role.Type,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl))},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtKey)
}

func ValidateJWT(tokenStr string, jwtKey []byte) (*JwtClaims, error) {
	claims := &JwtClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, errors.New("invalid token signature")
		}
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func claimsFromContext(ctx context.Context) *JwtClaims {
	claims, _ := ctx.Value(CtxJwtClaimsKey).(*JwtClaims)
	return claims
}

// jwtAuth rejects requests without a valid bearer token.
func jwtAuth(jwtKey []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			token, err := request.BearerExtractor{}.ExtractToken(r)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			claims, err := ValidateJWT(token, jwtKey)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), CtxJwtClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(hfn)
	}
}

type credentialSource interface {
	GetOrCreate(ctx context.Context) (credstore.Credential, error)
}

// apiKeyAuth admits the autotester, which presents our credential as
// "Authorization: ApiKey <key>".
func apiKeyAuth(creds credentialSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			scheme, key, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "ApiKey") || key == "" {
				writeUnauthorized(w)
				return
			}
			cred, err := creds.GetOrCreate(r.Context())
			if err != nil {
				httpjson.HandleError(logFrom(r), w, err)
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(cred.APIKey)) != 1 {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	e := srvcerror.ErrUnauthorized()
	httpjson.WriteErrorJson(w, e.Error(), e.HttpStatusCode(), e.ErrorCode())
}
