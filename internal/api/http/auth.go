package httpapi

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
)

type actorKey struct{}

// Principal is one configured API credential.
type Principal struct {
	KeyHash string
	ActorID string
	Role    application.Role
}

// Authenticator resolves the x-api-key header to an actor. Keys are
// configured as bcrypt hashes; plaintext never lives in config.
type Authenticator struct {
	principals []Principal
}

// NewAuthenticator builds the credential set from a hash -> "actor:role"
// map.
func NewAuthenticator(keys map[string]string) *Authenticator {
	a := &Authenticator{}
	for hash, spec := range keys {
		actorID, role, ok := strings.Cut(spec, ":")
		if !ok {
			continue
		}
		a.principals = append(a.principals, Principal{
			KeyHash: hash,
			ActorID: actorID,
			Role:    application.Role(role),
		})
	}
	return a
}

// Authenticate checks the presented key against every configured hash.
func (a *Authenticator) Authenticate(key string) (application.Actor, error) {
	if key == "" {
		return application.Actor{}, apperr.AuthRequired("x-api-key is required for market access")
	}
	for _, p := range a.principals {
		if bcrypt.CompareHashAndPassword([]byte(p.KeyHash), []byte(key)) == nil {
			return application.Actor{ID: p.ActorID, Role: p.Role}, nil
		}
	}
	return application.Actor{}, apperr.AuthRequired("api key authentication failed")
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.auth.Authenticate(r.Header.Get("x-api-key"))
		if err != nil {
			respondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func withActor(ctx context.Context, actor application.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) application.Actor {
	actor, _ := ctx.Value(actorKey{}).(application.Actor)
	return actor
}
