// Package jwt issues and verifies the HS256 bearer tokens used for access and refresh.
//
// Tokens are self-contained: any process holding the signing key can verify them
// without a directory lookup. Revocation is checked by the caller after [Manager.Parse]
// succeeds, because a jti is only trustworthy once the signature has been verified.
package jwt
