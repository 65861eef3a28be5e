package reqorch

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCachePolicyMaxAge(t *testing.T) {
	policy := HTTPCachePolicy{DefaultFreshFor: time.Second, DefaultStaleWindow: time.Second}
	resp := &Response{
		StatusCode: 200,
		Header:     http.Header{"Cache-Control": {"max-age=60"}},
	}
	fresh, _, ok := policy.Freshness(resp)
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, fresh)
}

func TestHTTPCachePolicyNoStore(t *testing.T) {
	policy := HTTPCachePolicy{}
	resp := &Response{StatusCode: 200, Header: http.Header{"Cache-Control": {"no-store"}}}
	_, _, ok := policy.Freshness(resp)
	assert.False(t, ok)
}

func TestHTTPCachePolicyStaleWhileRevalidate(t *testing.T) {
	policy := HTTPCachePolicy{DefaultStaleWindow: time.Hour}
	resp := &Response{
		StatusCode: 200,
		Header:     http.Header{"Cache-Control": {"max-age=30, stale-while-revalidate=300"}},
	}
	fresh, stale, ok := policy.Freshness(resp)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, fresh)
	assert.Equal(t, 300*time.Second, stale)
}

func TestHTTPCachePolicyRejectsNonSuccess(t *testing.T) {
	policy := HTTPCachePolicy{DefaultFreshFor: time.Minute}
	resp := &Response{StatusCode: 500, Header: http.Header{}}
	_, _, ok := policy.Freshness(resp)
	assert.False(t, ok)
}

func TestHTTPCachePolicyValidatorsOnly(t *testing.T) {
	policy := HTTPCachePolicy{DefaultFreshFor: time.Minute, RespectValidatorsOnly: true}
	withoutValidator := &Response{StatusCode: 200, Header: http.Header{}}
	_, _, ok := policy.Freshness(withoutValidator)
	assert.False(t, ok)

	withValidator := &Response{StatusCode: 200, Header: http.Header{"Etag": {`"abc"`}}}
	_, _, ok = policy.Freshness(withValidator)
	assert.True(t, ok)
}

func TestFixedTTLPolicy(t *testing.T) {
	policy := FixedTTLPolicy{TTL: 5 * time.Second}
	fresh, stale, ok := policy.Freshness(&Response{StatusCode: 200, Header: http.Header{}})
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, fresh)
	assert.Equal(t, time.Duration(0), stale)
}

func TestParseCacheControlNoCache(t *testing.T) {
	cc := parseCacheControl("no-cache, must-revalidate")
	assert.True(t, cc.noCache)
}
