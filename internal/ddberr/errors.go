// Package ddberr classifies the recovery classes described for backend
// dispatch failures: the diagnostic body returned to a client names both
// the outbound URL and one of these classes, so operators can tell a
// transport failure from a bad URI from a header-forwarding bug at a
// glance.
package ddberr

import "fmt"

// Class names a backend-dispatch error recovery class.
type Class string

const (
	ClassHyperLegacy     Class = "HyperLegacyError"
	ClassHyper           Class = "HyperError"
	ClassOddBox          Class = "OddBoxError"
	ClassInvalidURI      Class = "InvalidUri"
	ClassForwardHeader   Class = "ForwardHeaderError"
	ClassUpgrade         Class = "UpgradeError"
)

// Error wraps a lower-level error with a recovery class and the outbound
// URL that was being dispatched to, if any, so it can be rendered
// directly into a 500 diagnostic body per the error-handling design.
type Error struct {
	class Class
	url   string
	err   error
}

func New(class Class, url string, err error) *Error {
	return &Error{class: class, url: url, err: err}
}

func (e *Error) Class() Class { return e.class }

func (e *Error) URL() string { return e.url }

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Error() string {
	if e.url == "" {
		return fmt.Sprintf("%s: %v", e.class, e.err)
	}
	return fmt.Sprintf("%s dispatching to %s: %v", e.class, e.url, e.err)
}

// DiagnosticBody renders the plain-text diagnostic body spec §7 requires:
// it names the outbound URL and the error class.
func (e *Error) DiagnosticBody() string {
	return fmt.Sprintf("500 Internal Server Error\n\nerror class: %s\noutbound url: %s\ndetail: %v\n", e.class, e.url, e.err)
}
