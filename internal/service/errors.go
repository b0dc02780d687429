package service

import "errors"

// Credential and grant failure classes. All are recoverable and surfaced to
// the caller as typed failures; mutating operations either fully commit or
// fully fail. At the HTTP boundary, ErrCredentialNotFound, ErrCredentialRevoked,
// ErrCredentialExpired, and ErrCredentialMalformed all collapse into a single
// 401 so a caller cannot probe whether a key exists — the distinct kinds are
// kept for logging.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrNameConflict        = errors.New("name already in use")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrCredentialExpired   = errors.New("credential expired")
	ErrCredentialRevoked   = errors.New("credential revoked")
	ErrCredentialMalformed = errors.New("credential malformed")
	ErrInvalidRange        = errors.New("expiry days out of range")
	ErrInvalidName         = errors.New("invalid name")
	ErrAlreadyRevoked      = errors.New("api key already revoked")
	ErrAlreadyGranted      = errors.New("grant already exists")
	ErrNotFound            = errors.New("not found")
)
