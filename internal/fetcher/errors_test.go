package fetcher

import (
	"errors"
	"fmt"
	"testing"
)

func TestResultCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "200"},
		{&HTTPError{URL: "u", StatusCode: 404}, "404"},
		{&HTTPError{URL: "u", StatusCode: 503}, "503"},
		{&TimeoutError{URL: "u"}, "timeout"},
		{&BlockedError{URL: "u"}, "blocked"},
		{errors.New("weird"), "error"},
		{fmt.Errorf("wrapped: %w", &HTTPError{URL: "u", StatusCode: 429}), "429"},
	}
	for _, tt := range tests {
		if got := ResultCode(tt.err); got != tt.want {
			t.Errorf("ResultCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
