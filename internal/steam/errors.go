package steam

import "errors"

var (
	// ErrRSAKeyUnavailable means the login key endpoint kept failing.
	ErrRSAKeyUnavailable = errors.New("steam: rsa public key unavailable")

	// ErrEmptyServerResponse means an endpoint answered without a usable body.
	ErrEmptyServerResponse = errors.New("steam: empty server response")

	// ErrCaptchaRequired means the login flow demanded a captcha, which an
	// unattended client cannot solve.
	ErrCaptchaRequired = errors.New("steam: captcha required")

	// ErrGuardUpdateFailed means the guard code was not accepted during login.
	ErrGuardUpdateFailed = errors.New("steam: guard code rejected during login")

	// ErrSessionPollTimeout means polling never produced a refresh token.
	ErrSessionPollTimeout = errors.New("steam: auth session poll produced no token")

	// ErrRefreshCredentialExpired means the stored refresh token is no longer
	// valid and a full login is required.
	ErrRefreshCredentialExpired = errors.New("steam: refresh credential expired")

	// ErrSessionExpired means the web session cookies no longer authenticate.
	ErrSessionExpired = errors.New("steam: web session expired")

	// ErrConfirmationNotFound means no pending confirmation matched.
	ErrConfirmationNotFound = errors.New("steam: confirmation not found")

	// ErrGuardKeyRejected means the confirmation signing key was refused.
	ErrGuardKeyRejected = errors.New("steam: confirmation key rejected")

	// ErrConfirmationFailed means a single confirmation operation did not go
	// through, typically because the entry was already answered elsewhere.
	// Unlike ErrGuardKeyRejected it says nothing about the account's secrets.
	ErrConfirmationFailed = errors.New("steam: confirmation operation failed")

	// ErrTooManyRequests means the platform rate limited us.
	ErrTooManyRequests = errors.New("steam: too many requests")
)
