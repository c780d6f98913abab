package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestAppError(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("read: %w", ErrNotFound)
	err := NewAppError("CONFIG_ERROR", "read config file x.yaml", cause)
	assert.Equal(t, "CONFIG_ERROR: read config file x.yaml: read: resource not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, "E: m", NewAppError("E", "m", nil).Error())
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, WrapError(nil, "ignored"))
	err := WrapError(ErrCatalog, "fetch page 2")
	assert.EqualError(t, err, "fetch page 2: site catalog error")
	assert.ErrorIs(t, err, ErrCatalog)
}

func TestGRPCCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{context.Canceled, codes.Canceled},
		{fmt.Errorf("run: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{fmt.Errorf("site: %w", ErrInvalidInput), codes.InvalidArgument},
		{ErrNotFound, codes.NotFound},
		{fmt.Errorf("%w for x: search down", ErrNoCandidates), codes.NotFound},
		{ErrPersistence, codes.Unavailable},
		{ErrCatalog, codes.Unavailable},
		{ErrExtraction, codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GRPCCode(tt.err), "%v", tt.err)
	}
}

func TestContextValues(t *testing.T) {
	t.Parallel()

	ctx := WithSite(WithRunID(WithRequestID(context.Background(), "req-1"), "run-1"), "shop.example")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "shop.example", SiteFromContext(ctx))
	assert.Empty(t, SiteFromContext(context.Background()))
}
