package passkey

// Error codes carried in the response envelope. Flow failures are local: the
// handler maps them onto the envelope without leaking internal error text.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeChallengeMismatch  = "CHALLENGE_MISMATCH"
	CodeChallengeExpired   = "CHALLENGE_EXPIRED"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeCredentialNotFound = "CREDENTIAL_NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeUnknown            = "UNKNOWN_ERROR"
)

// Error is a flow-level failure with a stable code and a client-safe message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	errEmailRequired        = &Error{Code: CodeUnknown, Message: "Email is required"}
	errRateLimited          = &Error{Code: CodeRateLimited, Message: "Too many requests"}
	errChallengeMismatch    = &Error{Code: CodeChallengeMismatch, Message: "Invalid or expired challenge"}
	errChallengeExpired     = &Error{Code: CodeChallengeExpired, Message: "Challenge has expired"}
	errRegistrationFailed   = &Error{Code: CodeVerificationFailed, Message: "Registration verification failed"}
	errAuthenticationFailed = &Error{Code: CodeVerificationFailed, Message: "Authentication verification failed"}
	errNoPasskeyForEmail    = &Error{Code: CodeCredentialNotFound, Message: "No passkey found for this email"}
	errCredentialNotFound   = &Error{Code: CodeCredentialNotFound, Message: "Credential not found"}
	errPasskeyNotFound      = &Error{Code: CodeCredentialNotFound, Message: "Passkey not found"}
	errUnauthorized         = &Error{Code: CodeUnauthorized, Message: "Authentication required"}
)
