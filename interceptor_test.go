package reqorch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestInterceptorsRunHeaviestWeightFirst(t *testing.T) {
	c := newInterceptorChain()
	var order []string

	c.addRequest(1, RequestInterceptorFunc(func(ctx context.Context, req *Request) (*Request, error) {
		order = append(order, "low")
		return req, nil
	}))
	c.addRequest(10, RequestInterceptorFunc(func(ctx context.Context, req *Request) (*Request, error) {
		order = append(order, "high")
		return req, nil
	}))

	_, err := c.runRequest(context.Background(), &Request{ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestResponseInterceptorsRunLightestWeightFirst(t *testing.T) {
	c := newInterceptorChain()
	var order []string

	c.addResponse(10, ResponseInterceptorFunc(func(ctx context.Context, resp *Response) (*Response, error) {
		order = append(order, "high")
		return resp, nil
	}))
	c.addResponse(1, ResponseInterceptorFunc(func(ctx context.Context, resp *Response) (*Response, error) {
		order = append(order, "low")
		return resp, nil
	}))

	_, err := c.runResponse(context.Background(), &Response{Request: &Request{ID: "r1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "high"}, order)
}

func TestErrorInterceptorsRunInReverseRegistrationOrder(t *testing.T) {
	c := newInterceptorChain()
	var order []string

	c.addError(0, ErrorInterceptorFunc(func(ctx context.Context, req *Request, err error) error {
		order = append(order, "first_registered")
		return err
	}))
	c.addError(0, ErrorInterceptorFunc(func(ctx context.Context, req *Request, err error) error {
		order = append(order, "second_registered")
		return err
	}))

	original := errors.New("boom")
	got := c.runError(context.Background(), &Request{ID: "r1"}, original)

	assert.Equal(t, []string{"second_registered", "first_registered"}, order)
	assert.Equal(t, original, got)
}

func TestErrorInterceptorShortCircuitsOnTranslation(t *testing.T) {
	c := newInterceptorChain()
	translated := errors.New("translated")

	// Registered first: since error interceptors run in reverse
	// registration order, this one runs second and must never execute
	// once the later-registered interceptor below short-circuits.
	ranUnreachable := false
	c.addError(0, ErrorInterceptorFunc(func(ctx context.Context, req *Request, err error) error {
		ranUnreachable = true
		return err
	}))
	c.addError(0, ErrorInterceptorFunc(func(ctx context.Context, req *Request, err error) error {
		return translated
	}))

	got := c.runError(context.Background(), &Request{ID: "r1"}, errors.New("original"))
	assert.Equal(t, translated, got)
	assert.False(t, ranUnreachable, "short-circuited interceptor should not run")
}

func TestRequestInterceptorPanicIsIsolated(t *testing.T) {
	c := newInterceptorChain()
	c.addRequest(0, RequestInterceptorFunc(func(ctx context.Context, req *Request) (*Request, error) {
		panic("boom")
	}))

	_, err := c.runRequest(context.Background(), &Request{ID: "r1"})
	require.Error(t, err)
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindInterceptor, rerr.Kind)
}
