/*
Package auth provides token handling and the static token authenticator for
the gateway.

# Tokens

Tokens arrive in the "token" query parameter of the upgrade request. They
are checked for format with ParseToken, compared in constant time with
ValidateToken and never logged in clear: use MaskToken.

	token, err := auth.GenerateToken(32) // 32 bytes = 256 bits

# Static authenticator

StaticAuthenticator maps a fixed set of tokens to players. Entries come from
configuration in "token:player[:name]" form:

	a, err := auth.ParseStaticTokens([]string{"dev-token-1:alice", "dev-token-2:bob:Bob"})
	id, err := a.Authenticate(ctx, "dev-token-1") // id.PlayerID == "alice"

Production deployments verify tokens remotely, see package natsrooms.
*/
package auth
