package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hay-kot/chatsync/pkg/randid"
)

// Request is an outbound API call. It is plain data so it can be re-sent after a
// refresh; Retried and Token record what happened to it.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte

	// Retried is set once the request has been re-sent after a refresh. A request
	// that is rejected again after a retry terminates the session.
	Retried bool
	// Token is the access token the most recent attempt was sent with.
	Token string
}

// NewRequest builds a Request, encoding body as JSON when it is non-nil.
func NewRequest(method, path string, body any) (*Request, error) {
	req := &Request{Method: method, Path: path}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		req.Body = data
	}
	return req, nil
}

// build materializes the request against baseURL. Body bytes are re-read on every
// call so the same Request can be sent twice.
func (r *Request) build(ctx context.Context, baseURL, token string) (*http.Request, error) {
	u := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	hr, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("X-Request-ID", randid.RequestID())
	if r.Body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		hr.Header.Set("Authorization", "Bearer "+token)
	}

	r.Token = token
	return hr, nil
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
