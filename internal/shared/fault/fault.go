package fault

import (
	"errors"
	"net/http"
)

// Kind classifies a failure so handlers and tests can tell domain
// rejections apart from infrastructure errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidRequest
	KindUserNotFound
	KindUserAlreadyExists
	KindSessionAlreadyOpen
	KindUnauthorized
	KindNoActiveSession
	KindNoCompletedSession
	KindStoreUnavailable
)

type Error struct {
	Kind    Kind
	Message string
	// Meta carries informative fields for responses, e.g. the id and
	// start time of an already-open session.
	Meta map[string]any
	Err  error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by kind, so errors.Is(err, fault.New(KindUserNotFound, ""))
// and the exported sentinels below work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	InvalidRequest     = &Error{Kind: KindInvalidRequest}
	UserNotFound       = &Error{Kind: KindUserNotFound}
	UserAlreadyExists  = &Error{Kind: KindUserAlreadyExists}
	SessionAlreadyOpen = &Error{Kind: KindSessionAlreadyOpen}
	Unauthorized       = &Error{Kind: KindUnauthorized}
	NoActiveSession    = &Error{Kind: KindNoActiveSession}
	NoCompletedSession = &Error{Kind: KindNoCompletedSession}
	StoreUnavailable   = &Error{Kind: KindStoreUnavailable}
)

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusCode maps an error to the HTTP status the handlers respond with.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUserNotFound, KindNoActiveSession, KindNoCompletedSession:
		return http.StatusNotFound
	case KindUserAlreadyExists, KindSessionAlreadyOpen:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
