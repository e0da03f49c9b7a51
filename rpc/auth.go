package rpc

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const scopeMint = "ledger:mint"

// adminAuth validates HS256 bearer tokens carrying a space separated
// "scope" claim.
type adminAuth struct {
	secret []byte
	issuer string
}

func newAdminAuth(secret, issuer string) *adminAuth {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &adminAuth{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}
}

func (a *adminAuth) authorize(r *http.Request, scope string) *RPCError {
	if a == nil {
		return &RPCError{Code: codeUnauthorized, Message: "admin methods disabled"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	claims, err := a.parse(raw)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "invalid token", Data: err.Error()}
	}
	if !hasScope(claims, scope) {
		return &RPCError{Code: codeUnauthorized, Message: "insufficient scope", Data: scope}
	}
	return nil
}

func (a *adminAuth) parse(raw string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func hasScope(claims jwt.MapClaims, want string) bool {
	raw, _ := claims["scope"].(string)
	for _, scope := range strings.Fields(raw) {
		if scope == want {
			return true
		}
	}
	return false
}

func (s *Server) requireAdmin(scope string, next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
		if authErr := s.admin.authorize(r, scope); authErr != nil {
			status := http.StatusUnauthorized
			if authErr.Message == "insufficient scope" {
				status = http.StatusForbidden
			}
			writeError(w, status, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		next(w, r, req)
	}
}
