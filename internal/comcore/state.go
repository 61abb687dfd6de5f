package comcore

import "github.com/infodancer/comcore/internal/email"

// State represents the current state in the login state machine.
type State int

const (
	// StateLoggedOut is the initial state; only the unauthenticated
	// requests are accepted.
	StateLoggedOut State = iota

	// StateConfirmEmail waits for a confirmation code bound to an email
	// address and a code kind (new account, two-factor, password reset).
	StateConfirmEmail

	// StateResetPassword waits for the replacement password after a
	// successful reset code.
	StateResetPassword

	// StateLoggedIn accepts the full authenticated vocabulary.
	StateLoggedIn
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "LOGGED_OUT"
	case StateConfirmEmail:
		return "CONFIRM_EMAIL"
	case StateResetPassword:
		return "RESET_PASSWORD"
	case StateLoggedIn:
		return "LOGGED_IN"
	default:
		return "UNKNOWN"
	}
}

// session is the per-connection login state. The tagged fields are only
// meaningful in the state noted; transitions replace the whole value.
type session struct {
	state State

	// ConfirmEmail
	email    string
	codeKind email.CodeKind

	// ResetPassword and LoggedIn
	userID string

	// LoggedIn
	name  string
	token string
}

// loggedOut is the zero session.
func loggedOut() session {
	return session{state: StateLoggedOut}
}

// Statuses returned by the login request.
const (
	LoginSuccess         = "SUCCESS"
	LoginEnterCode       = "ENTER_CODE"
	LoginDoesNotExist    = "DOES_NOT_EXIST"
	LoginInvalidPassword = "INVALID_PASSWORD"
)

// logoutFirst is the set of request kinds that force the logout transition
// before they are handled, regardless of the current state.
var logoutFirst = map[string]bool{
	"login":         true,
	"createAccount": true,
	"requestReset":  true,
	"logout":        true,
}
