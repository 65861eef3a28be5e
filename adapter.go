package reqorch

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// Adapter performs the actual network call for a Request. The
// orchestrator never talks to net/http directly outside of
// NewHTTPAdapter, which keeps the core logic (queueing, retry, cache,
// circuit breaking) fully testable against a fake Adapter.
type Adapter interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPAdapter is the default Adapter, backed by *http.Client.
type HTTPAdapter struct {
	client *http.Client
}

// NewHTTPAdapter wraps client (or http.DefaultClient if nil) as an
// Adapter.
func NewHTTPAdapter(client *http.Client) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{client: client}
}

func (a *HTTPAdapter) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL, body)
	if err != nil {
		return nil, newValidationError("invalid request: " + err.Error())
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyContextErr(ctx, req.ID, req.attempt)
		}
		return nil, newNetworkError(req.ID, req.attempt, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, newNetworkError(req.ID, req.attempt, err)
	}

	return &Response{
		Request:    req,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
		Attempts:   req.attempt,
	}, nil
}

// classifyContextErr distinguishes a deadline from a cancellation so
// callers see KindTimeout vs KindCanceled rather than a generic failure.
func classifyContextErr(ctx context.Context, reqID string, attempt int) error {
	if ctx.Err() == context.DeadlineExceeded {
		return newTimeoutError(reqID, attempt, ctx.Err())
	}
	return newCanceledError(reqID, attempt, context.Cause(ctx))
}
