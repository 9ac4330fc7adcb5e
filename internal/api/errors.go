package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hay-kot/chatsync/internal/core/chat"
)

// StatusError is a non-2xx API response. It unwraps to the matching sentinel in
// the chat package so callers can use errors.Is.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return chat.ErrUnauthenticated
	case e.Status == http.StatusNotFound:
		return chat.ErrNotFound
	case e.Status == http.StatusBadRequest,
		e.Status == http.StatusForbidden,
		e.Status == http.StatusConflict,
		e.Status == http.StatusUnprocessableEntity:
		return chat.ErrValidation
	case e.Status >= 500:
		return chat.ErrTransport
	default:
		return nil
	}
}

// statusError reads an error body of the form {"message": "..."} or {"error": "..."}.
func statusError(resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(data, &body); err == nil {
		msg = body.Message
		if msg == "" {
			msg = body.Error
		}
	} else {
		msg = strings.TrimSpace(string(data))
	}

	return &StatusError{Status: resp.StatusCode, Message: msg}
}
