package api

import (
	"context"
	"crypto/subtle"
	"strings"

	restful "github.com/emicklei/go-restful/v3"

	"github.com/robmartinson/tablesync/internal/errs"
)

const bearerHdr = "Bearer "

// Authorizer decides whether a bearer token belongs to an administrator.
// It returns an Unauthenticated error for unknown tokens and a Forbidden
// error for known non-administrators.
type Authorizer interface {
	Authorize(ctx context.Context, token string) error
}

// TokenAuthorizer checks tokens against static lists.
type TokenAuthorizer struct {
	Admins []string
	Users  []string
}

func (a TokenAuthorizer) Authorize(_ context.Context, token string) error {
	if token == "" {
		return errs.Unauthenticated("Unauthorized")
	}
	if contains(a.Admins, token) {
		return nil
	}
	if contains(a.Users, token) {
		return errs.Forbidden("administrator role required")
	}
	return errs.Unauthenticated("Unauthorized")
}

func contains(tokens []string, token string) bool {
	found := false
	for _, t := range tokens {
		if t != "" && subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			found = true
		}
	}
	return found
}

func (s *Server) authFilter(req *restful.Request, res *restful.Response, chain *restful.FilterChain) {
	hdr := req.HeaderParameter("Authorization")

	token := ""
	if strings.HasPrefix(hdr, bearerHdr) {
		token = strings.TrimSpace(hdr[len(bearerHdr):])
	}

	if err := s.Auth.Authorize(req.Request.Context(), token); err != nil {
		s.fail(req, res, err)
		return
	}

	chain.ProcessFilter(req, res)
}
