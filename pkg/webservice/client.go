// Package webservice talks to a Moodle REST webservice endpoint.
package webservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
)

// EndpointPath is appended to the remote host to reach the REST server.
const EndpointPath = "/webservice/rest/server.php"

// FormatJSON is the only response format requested.
const FormatJSON = "json"

// Remote function names exposed by the local_mahoodle Moodle plugin.
const (
	FunctionReceive = "local_mahoodle_receive_mahara_notifications"
	FunctionRead    = "local_mahoodle_read_mahara_notifications"
	FunctionDelete  = "local_mahoodle_delete_mahara_notifications"
)

// Response is the raw result of one webservice call. Transport failures are
// recorded in Error rather than returned, so callers decide what matters.
type Response struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code,omitempty"`
	Header     http.Header   `json:"-"`
	Body       []byte        `json:"-"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// OK reports a completed exchange with a 2xx status. Moodle signals
// application errors with 200 and an exception body; see Exception.
func (r *Response) OK() bool {
	return r != nil && r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Exception is the error document Moodle returns for a failed function call.
type Exception struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
	DebugInfo string `json:"debuginfo,omitempty"`
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Exception, e.ErrorCode, e.Message)
}

// Exception decodes the body as a Moodle exception. It returns nil when the
// body is not one.
func (r *Response) Exception() *Exception {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	var exc Exception
	if err := json.Unmarshal(r.Body, &exc); err != nil {
		return nil
	}
	if exc.Exception == "" && exc.ErrorCode == "" {
		return nil
	}
	return &exc
}

// Client posts form-encoded calls to {host}/webservice/rest/server.php.
type Client struct {
	http *http.Client
}

func NewClient(client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{http: client}
}

// Endpoint returns the REST server URL for a remote host.
func Endpoint(host string) string {
	return strings.TrimRight(host, "/") + EndpointPath
}

// Call encodes params (a struct with `url` tags) and POSTs it to host. It
// never returns nil.
func (c *Client) Call(ctx context.Context, host string, params any) *Response {
	resp := &Response{URL: Endpoint(host)}

	values, err := query.Values(params)
	if err != nil {
		resp.Error = fmt.Sprintf("encode params: %v", err)
		return resp
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resp.URL, strings.NewReader(values.Encode()))
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		resp.Duration = time.Since(start)
		resp.Error = err.Error()
		return resp
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	resp.Duration = time.Since(start)
	resp.StatusCode = res.StatusCode
	resp.Header = res.Header
	resp.Body = body
	if err != nil {
		resp.Error = fmt.Sprintf("read body: %v", err)
	}
	return resp
}
