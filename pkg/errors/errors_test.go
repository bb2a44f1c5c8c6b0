package errors

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Constructors(t *testing.T) {
	cause := fmt.Errorf("connection reset")

	tests := []struct {
		name      string
		err       *AppError
		wantType  ErrorType
		retryable bool
		contains  string
	}{
		{"unmappable type", NewUnmappableTypeError("Person.Tags", "map[string]string"), ErrorTypeUnmappableType, false, "Person.Tags"},
		{"ambiguous key", NewAmbiguousKeyError("Area", "AT"), ErrorTypeAmbiguousKey, false, `"AT"`},
		{"validation", NewValidationError("label is empty"), ErrorTypeValidation, false, "label is empty"},
		{"store", NewStoreError("apply", cause), ErrorTypeStore, false, "connection reset"},
		{"transient store", NewTransientStoreError("apply", cause), ErrorTypeStore, true, "'apply'"},
		{"timeout", NewTimeoutError("apply"), ErrorTypeTimeout, false, "timed out"},
		{"unavailable", NewUnavailableError("memory"), ErrorTypeUnavailable, false, "memory"},
		{"internal", NewInternalError("boom"), ErrorTypeInternal, false, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Contains(t, tt.err.Error(), tt.contains)
			assert.True(t, IsType(tt.err, tt.wantType))
			assert.NotEmpty(t, tt.err.StackTrace)
		})
	}
}

func TestAppError_UnwrapAndWrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStoreError("apply", cause)

	assert.ErrorIs(t, err, cause)

	wrapped := Wrap(err, "storing people")
	require.Error(t, wrapped)
	assert.True(t, IsStore(wrapped))
	assert.Contains(t, wrapped.Error(), "storing people")
	assert.ErrorIs(t, wrapped, cause)

	plain := Wrapf(errors.New("x"), "step %d", 3)
	assert.True(t, IsType(plain, ErrorTypeInternal))
	assert.Contains(t, plain.Error(), "step 3")

	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestAppError_WithDetailsMerges(t *testing.T) {
	err := NewAmbiguousKeyError("Area", "AT").WithDetails(map[string]interface{}{"objects": 2})

	assert.Equal(t, "Area", err.Details["label"])
	assert.Equal(t, 2, err.Details["objects"])
}

func TestCollector_KeepsOrderAndFlattens(t *testing.T) {
	c := NewCollector(0)
	assert.False(t, c.HasErrors())
	assert.NoError(t, c.ToError())

	first := NewValidationError("first")
	c.Add(first)
	c.Add(nil)
	c.Add(&MultiError{Errors: []error{NewValidationError("second"), NewValidationError("third")}})

	err := c.ToError()
	require.Error(t, err)

	var multi *MultiError
	require.True(t, errors.As(err, &multi))
	require.Len(t, multi.Errors, 3)
	assert.Same(t, first, multi.Errors[0])
	assert.Contains(t, multi.Errors[2].Error(), "third")
	assert.Contains(t, err.Error(), "3 errors occurred")
	assert.ErrorIs(t, err, first)
	assert.True(t, IsValidation(err))
	assert.False(t, IsRetryable(err))
}

func TestCollector_RespectsLimit(t *testing.T) {
	c := NewCollector(2)
	for i := 0; i < 5; i++ {
		c.Add(NewValidationError(fmt.Sprintf("e%d", i)))
	}

	var multi *MultiError
	require.True(t, errors.As(c.ToError(), &multi))
	assert.Len(t, multi.Errors, 2)
	assert.Equal(t, 3, multi.Dropped)
	assert.Contains(t, multi.Error(), "and 3 more")
}

func TestCollector_UnboundedByDefault(t *testing.T) {
	c := NewCollector(0)
	for i := 0; i < 5000; i++ {
		c.Add(NewValidationError(fmt.Sprintf("e%d", i)))
	}

	var multi *MultiError
	require.True(t, errors.As(c.ToError(), &multi))
	assert.Len(t, multi.Errors, 5000)
	assert.Zero(t, multi.Dropped)
}

func TestCollector_ConcurrentAdd(t *testing.T) {
	c := NewCollector(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(NewInternalError("x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
}

func TestMultiError_SingleErrorMessage(t *testing.T) {
	err := &MultiError{Errors: []error{NewTimeoutError("apply")}}

	assert.Equal(t, NewTimeoutError("apply").Error(), err.Error())
	assert.True(t, IsTimeout(err))
	assert.Len(t, Flatten(err), 1)
	assert.Nil(t, Flatten(nil))
}

func TestAsList(t *testing.T) {
	assert.NoError(t, AsList(nil))

	single := NewTimeoutError("apply")
	var multi *MultiError
	require.True(t, errors.As(AsList(single), &multi))
	assert.Equal(t, []error{single}, multi.Errors)

	already := &MultiError{Errors: []error{single, single}}
	assert.Same(t, already, AsList(already))
}
