package ecode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("update post: %w", New(PermissionDenied, "not the owner"))

	assert.Equal(t, PermissionDenied, Code(err))
	assert.True(t, Is(err, PermissionDenied))
	assert.True(t, IsError(err))
	assert.Equal(t, "permission-denied: not the owner", New(PermissionDenied, "not the owner").Error())
}

func TestCodeOfPlainError(t *testing.T) {
	err := errors.New("connection reset")

	assert.Empty(t, Code(err))
	assert.False(t, IsError(err))
	assert.False(t, Is(nil, NotFound))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[string]int{
		EmptyEmail:        http.StatusBadRequest,
		LoginFirst:        http.StatusUnauthorized,
		PermissionDenied:  http.StatusForbidden,
		NotFound:          http.StatusNotFound,
		EmailAlreadyInUse: http.StatusConflict,
		"":                http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), code)
	}
}
