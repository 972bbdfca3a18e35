package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidation_NamesField(t *testing.T) {
	err := Validation("images", "at least one image is required")

	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "images", err.Field)
	assert.Contains(t, err.Error(), "images")
	assert.Contains(t, err.Error(), "at least one image is required")
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
}

func TestError_IsByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Engine("render", "invalid data", errors.New("exit status 1")))

	assert.ErrorIs(t, err, ErrEngine)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	err := Timeout("render", time.Second, "", context.DeadlineExceeded)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, err.Retryable())
	assert.Equal(t, http.StatusGatewayTimeout, err.HTTPStatus())
}

func TestEngine_CarriesDiagnostic(t *testing.T) {
	err := Engine("render", "invalid data", errors.New("exit status 1"))

	assert.Equal(t, "invalid data", err.Diagnostic)
	assert.False(t, err.Retryable())
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus())
}

func TestEmptyOutput_Message(t *testing.T) {
	missing := EmptyOutput("/w/output.mp4", -1, 1024)
	assert.Contains(t, missing.Message, "no output")

	small := EmptyOutput("/w/output.mp4", 0, 1024)
	assert.Contains(t, small.Message, "0 bytes")
	assert.Equal(t, http.StatusInternalServerError, small.HTTPStatus())
}

func TestClassify(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Classify("op", nil))
	})

	t.Run("unclassified becomes internal", func(t *testing.T) {
		cause := errors.New("disk full")
		err := Classify("workspace.write", cause)
		require.NotNil(t, err)
		assert.Equal(t, KindInternal, err.Kind)
		assert.Equal(t, "workspace.write", err.Op)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("classified is preserved", func(t *testing.T) {
		orig := Validation("bgMusic", "missing")
		err := Classify("other", fmt.Errorf("ctx: %w", orig))
		assert.Same(t, orig, err)
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("f", "m"), KindValidation},
		{"busy", Busy(2), KindBusy},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
			assert.True(t, IsKind(tt.err, tt.want))
		})
	}

	assert.False(t, IsKind(nil, KindInternal))
}

func TestBusy(t *testing.T) {
	err := Busy(3)
	assert.Contains(t, err.Error(), "too many concurrent jobs")
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}
