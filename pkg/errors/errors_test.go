package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := WrapError(cause, ErrHTTPRequest, "patch collection")

	assert.True(t, Is(err, ErrHTTPRequest))
	assert.True(t, Is(err, cause))
	assert.False(t, Is(err, ErrHTTPResponse))
	assert.Contains(t, err.Error(), "patch collection")
}

func TestResponseError(t *testing.T) {
	t.Run("MatchesHTTPResponseKind", func(t *testing.T) {
		err := WrapError(&ResponseError{StatusCode: 500, HTML: "<html>oops</html>"}, ErrPagination, "fetch page")
		assert.True(t, Is(err, ErrHTTPResponse))
		assert.Equal(t, 500, StatusCode(err))
	})

	t.Run("MessageUsesBody", func(t *testing.T) {
		err := &ResponseError{StatusCode: 422, Body: []byte(`{"message":"invalid"}`)}
		assert.Contains(t, err.Error(), "invalid")
	})

	t.Run("NoStatusOnPlainError", func(t *testing.T) {
		assert.Equal(t, 0, StatusCode(fmt.Errorf("x")))
	})
}

func TestUnrecognizedShapeError(t *testing.T) {
	err := fmt.Errorf("export products: %w", &UnrecognizedShapeError{URL: "/api/rest/v1/products", Body: []byte(`{"foo":"bar"}`)})

	assert.True(t, Is(err, ErrUnrecognizedShape))
	var shape *UnrecognizedShapeError
	assert.True(t, As(err, &shape))
	assert.Equal(t, "/api/rest/v1/products", shape.URL)
}
