package crawler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchErrorMatchesSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  *FetchError
		want error
	}{
		{name: "robots", err: &FetchError{Kind: FailureRobotsDisallowed, URL: "u"}, want: ErrRobotsDisallowed},
		{name: "timeout", err: &FetchError{Kind: FailureTimeout, URL: "u"}, want: ErrTimeout},
		{name: "transport", err: &FetchError{Kind: FailureTransport, URL: "u"}, want: ErrTransport},
		{name: "status", err: &FetchError{Kind: FailureHTTPStatus, URL: "u", StatusCode: 503}, want: ErrHTTPStatus},
	}
	all := []error{ErrRobotsDisallowed, ErrTimeout, ErrTransport, ErrHTTPStatus}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("extract: %w", tt.err)
			for _, sentinel := range all {
				assert.Equal(t, sentinel == tt.want, errors.Is(wrapped, sentinel), "sentinel %v", sentinel)
			}
			assert.Equal(t, tt.err.Kind, KindOf(wrapped))
		})
	}
}

func TestFetchErrorMessageAndStatus(t *testing.T) {
	err := &FetchError{Kind: FailureHTTPStatus, URL: "https://example.com", StatusCode: 503}
	require.Equal(t, "fetch https://example.com: http error 503", err.Error())
	require.Equal(t, 503, StatusCodeOf(fmt.Errorf("wrapped: %w", err)))
	require.Equal(t, 0, StatusCodeOf(errors.New("plain")))
	require.Equal(t, FailureKind(0), KindOf(errors.New("plain")))

	cause := errors.New("dial refused")
	transport := &FetchError{Kind: FailureTransport, URL: "https://example.com", Err: cause}
	require.ErrorIs(t, transport, cause)
	require.Contains(t, transport.Error(), "transport_error")
}
