// Package auth resolves bearer credentials issued by the external identity
// service into a trusted UserID. It verifies signatures only; issuing
// credentials, passwords, and account state are the identity service's job.
package auth

import "errors"

var (
	ErrKeyMissing   = errors.New("auth: HMAC key missing")
	ErrKeyTooShort  = errors.New("auth: HMAC key too short")
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrNoCredential = errors.New("auth: no bearer credential")
)
