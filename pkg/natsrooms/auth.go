package natsrooms

import (
	"context"
	"errors"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
)

// ErrEmptyIdentity is returned when verification succeeds without a player id.
var ErrEmptyIdentity = errors.New("natsrooms: verified identity has no player id")

// Authenticator verifies tokens by asking "<prefix>.auth.verify".
type Authenticator struct {
	client *Client
}

var _ gateway.Authenticator = (*Authenticator)(nil)

// NewAuthenticator creates a remote token verifier.
func NewAuthenticator(conn Conn, opts ...Option) *Authenticator {
	return &Authenticator{client: NewClient(conn, opts...)}
}

// Authenticate implements gateway.Authenticator.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (gateway.Identity, error) {
	var id gateway.Identity
	if err := a.client.call(ctx, a.client.subjects.AuthVerify(), verifyRequest{Token: token}, &id); err != nil {
		return gateway.Identity{}, err
	}
	if id.PlayerID == "" {
		return gateway.Identity{}, ErrEmptyIdentity
	}
	return id, nil
}

// TokenVerifier checks a token on the verifying side, see Responder.ServeAuth.
type TokenVerifier func(ctx context.Context, token string) (gateway.Identity, error)
