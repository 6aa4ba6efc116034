package httpx

import (
	"errors"
	"log"
	"net/http"

	"integram/pkg/models"
)

// Kind classifies a handler failure for the legacy error contract.
type Kind int

const (
	KindStore Kind = iota // default for unclassified errors
	KindValidation
	KindAuth
	KindNotFound
	KindDenied
)

// Error carries the classification to the shaping boundary. Msg is what the
// caller may see; Err is logged only.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }

// AuthFailed is deliberately generic: the caller never learns which check
// rejected the credentials.
func AuthFailed() *Error { return &Error{Kind: KindAuth, Msg: "invalid credentials"} }

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Msg: msg} }

func Denied(msg string) *Error { return &Error{Kind: KindDenied, Msg: msg} }

func StoreFailed(err error) *Error {
	return &Error{Kind: KindStore, Msg: "internal error", Err: err}
}

// WriteError renders err under the legacy contract. In API mode validation
// and auth failures go out as HTTP 200 with the one-element error array;
// not-found stays 404 and denial stays 403 because old clients branch on
// those two codes. Store failures are logged in full and leak nothing.
func WriteError(w http.ResponseWriter, shape models.Shape, err error) {
	var le *Error
	if !errors.As(err, &le) {
		le = StoreFailed(err)
	}
	if le.Kind == KindStore {
		log.Printf("store error: %v", le)
	}
	if shape.API() {
		switch le.Kind {
		case KindValidation, KindAuth:
			WriteJSON(w, http.StatusOK, models.NewAPIError(le.Msg))
		case KindNotFound:
			WriteJSON(w, http.StatusNotFound, models.NewAPIError(le.Msg))
		case KindDenied:
			WriteJSON(w, http.StatusForbidden, models.NewAPIError(le.Msg))
		default:
			WriteJSON(w, http.StatusInternalServerError, models.NewAPIError(le.Msg))
		}
		return
	}
	switch le.Kind {
	case KindValidation:
		http.Error(w, le.Msg, http.StatusBadRequest)
	case KindAuth:
		http.Error(w, le.Msg, http.StatusUnauthorized)
	case KindNotFound:
		http.Error(w, le.Msg, http.StatusNotFound)
	case KindDenied:
		http.Error(w, le.Msg, http.StatusForbidden)
	default:
		http.Error(w, le.Msg, http.StatusInternalServerError)
	}
}

// WriteReport serializes a report for the selected shape. encode is the
// display encoder used by the HR shape and may be nil for the others.
func WriteReport(w http.ResponseWriter, shape models.Shape, r *models.Report, encode func(t int64, val string) string) {
	if encode == nil {
		encode = func(_ int64, v string) string { return v }
	}
	WriteJSON(w, http.StatusOK, r.Render(shape, encode))
}
