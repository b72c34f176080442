package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ status int }

func (e statusErr) Error() string   { return fmt.Sprintf("HTTP %d", e.status) }
func (e statusErr) ErrorKind() Kind { return KindRequest }

type emptyErr struct{}

func (emptyErr) Error() string { return "" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantMsg  string
	}{
		{"kinded error", statusErr{502}, KindRequest, "HTTP 502"},
		{"wrapped kinded error", fmt.Errorf("route geometry: %w", statusErr{404}), KindRequest, "route geometry: HTTP 404"},
		{"canceled", fmt.Errorf("fetch: %w", context.Canceled), KindCanceled, "fetch: context canceled"},
		{"deadline", context.DeadlineExceeded, KindCanceled, "context deadline exceeded"},
		{"plain error", errors.New("boom"), KindUnknown, "boom"},
		{"empty message uses fallback", emptyErr{}, KindUnknown, "could not load"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "could not load")
			require.NotNil(t, got)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantMsg, got.Message)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil, "fallback"))
}

func TestClassify_AlreadyClassified(t *testing.T) {
	orig := &Error{Kind: KindDecode, Message: "bad payload"}
	got := Classify(fmt.Errorf("outer: %w", orig), "fallback")
	assert.Same(t, orig, got)
}

func TestVisible(t *testing.T) {
	assert.False(t, Visible(nil))
	assert.False(t, Visible(&Error{Kind: KindCanceled}))
	assert.True(t, Visible(&Error{Kind: KindNetwork, Message: "offline"}))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "request", KindRequest.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
