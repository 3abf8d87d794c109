package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/monoculum/formam"

	"fknsrs.biz/p/ytcampaigns/internal/ctxlogger"
)

// Error is an error with a status code and a message that is safe to show
// to clients.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Message, e.Err.Error())
	}

	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func BadRequest(message string) *Error    { return NewError(http.StatusBadRequest, message) }
func NotFoundError(message string) *Error { return NewError(http.StatusNotFound, message) }
func Conflict(message string) *Error      { return NewError(http.StatusConflict, message) }

// Wrap attaches a client message and status to err.
func Wrap(err error, status int, message string) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

// responses

func WriteJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("content-type", "application/json; charset=utf-8")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		panic(fmt.Errorf("httputil.WriteJSON: %w", err))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError responds with {"error": message}. Errors that aren't an *Error
// become a 500 with a generic message and are logged with the request
// logger.
func WriteError(rw http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(err, http.StatusInternalServerError, "Internal server error")
	}

	l := ctxlogger.GetLogger(r.Context()).WithError(err).WithField("http.status_code", e.Status)
	if e.Status >= http.StatusInternalServerError {
		l.Error("request failed")
	} else {
		l.Debug("request rejected")
	}

	WriteJSON(rw, e.Status, errorBody{Error: e.Message})
}

func NotFound(rw http.ResponseWriter, r *http.Request) {
	WriteError(rw, r, NotFoundError("Not found"))
}

func MethodNotAllowed(rw http.ResponseWriter, r *http.Request) {
	WriteError(rw, r, NewError(http.StatusMethodNotAllowed, "Method not allowed"))
}

// requests

// DecodeInput fills v from a JSON body, or from a url-encoded or multipart
// form using formam tags. An empty body leaves v untouched.
func DecodeInput(r *http.Request, v interface{}) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("content-type"))

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				return Wrap(err, http.StatusBadRequest, "Invalid form body")
			}
		} else if err := r.ParseForm(); err != nil {
			return Wrap(err, http.StatusBadRequest, "Invalid form body")
		}

		if err := formam.Decode(r.PostForm, v); err != nil {
			return Wrap(err, http.StatusBadRequest, "Invalid form body")
		}

		return nil
	default:
		if r.Body == nil || r.Body == http.NoBody {
			return nil
		}

		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return Wrap(err, http.StatusBadRequest, "Invalid JSON body")
		}

		return nil
	}
}
