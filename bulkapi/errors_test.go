package bulkapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "invalid session",
			status: 401,
			body:   `[{"errorCode":"INVALID_SESSION_ID","message":"Session expired or invalid"}]`,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				require.ErrorAs(t, err, &authErr)
				require.Equal(t, "INVALID_SESSION_ID", authErr.Code)
				require.False(t, retryable(err))
			},
		},
		{
			name:   "request limit",
			status: 429,
			body:   `[{"errorCode":"REQUEST_LIMIT_EXCEEDED","message":"TotalRequests Limit exceeded."}]`,
			check: func(t *testing.T, err error) {
				var rateErr *RateLimitError
				require.ErrorAs(t, err, &rateErr)
				require.True(t, retryable(err))
			},
		},
		{
			name:   "request limit by code only",
			status: 400,
			body:   `[{"errorCode":"REQUEST_LIMIT_EXCEEDED","message":"ConcurrentRequests Limit exceeded."}]`,
			check: func(t *testing.T, err error) {
				var rateErr *RateLimitError
				require.ErrorAs(t, err, &rateErr)
				require.True(t, retryable(err))
			},
		},
		{
			name:   "bad request",
			status: 400,
			body:   `[{"errorCode":"INVALIDJOB","message":"InvalidJob : Invalid job id"}]`,
			check: func(t *testing.T, err error) {
				var reqErr *RequestError
				require.ErrorAs(t, err, &reqErr)
				require.Equal(t, "INVALIDJOB", reqErr.Code)
				require.Equal(t, 400, reqErr.Status)
				require.False(t, retryable(err))
			},
		},
		{
			name:   "server error is transient",
			status: 503,
			body:   `<html>Service Unavailable</html>`,
			check: func(t *testing.T, err error) {
				require.True(t, retryable(err))
			},
		},
		{
			name:   "non json body",
			status: 400,
			body:   "not json at all",
			check: func(t *testing.T, err error) {
				var reqErr *RequestError
				require.ErrorAs(t, err, &reqErr)
				require.Contains(t, reqErr.Error(), "not json at all")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, classify("test op", "750A1", tt.status, []byte(tt.body)))
		})
	}
}
