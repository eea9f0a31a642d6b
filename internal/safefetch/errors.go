package safefetch

import "fmt"

// Block reasons reported by BlockedError.
const (
	ReasonInvalidURL    = "invalid_url"
	ReasonScheme        = "scheme_not_allowed"
	ReasonReservedAddr  = "reserved_address"
	ReasonNoAddresses   = "no_addresses"
	ReasonTooManyHops   = "too_many_redirects"
	ReasonRedirectCheck = "redirect_target_blocked"
)

// BlockedError is returned when a URL targets a destination the fetcher refuses
// to contact. It is never retried.
type BlockedError struct {
	URL    string
	Host   string
	Addr   string
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("blocked target %s (%s): %s resolves to %s", e.URL, e.Reason, e.Host, e.Addr)
	}
	return fmt.Sprintf("blocked target %s: %s", e.URL, e.Reason)
}

// Error is a transport failure: timeout, DNS failure, refused connection or an
// unreadable body. A non-2xx response is not an Error.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
