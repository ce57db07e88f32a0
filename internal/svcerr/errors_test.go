package svcerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSetsDefaultStatusAndRetriable(t *testing.T) {
	e := New(Timeout, "stage timed out")
	assert.Equal(t, http.StatusGatewayTimeout, e.HTTPStatus)
	assert.True(t, e.Retriable)

	e = New(Validation, "bad input")
	assert.Equal(t, http.StatusBadRequest, e.HTTPStatus)
	assert.False(t, e.Retriable)
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(Internal, "wrapped", cause)
	assert.ErrorIs(t, e, cause)
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, Validation, KindOf(New(Validation, "x")))
}

func TestAsNeedsAnErrorChain(t *testing.T) {
	base := New(Conflict, "claim busy")
	wrapped := errors.New("outer: " + base.Error())
	_, ok := As(wrapped)
	assert.False(t, ok)

	_, ok = As(base)
	assert.True(t, ok)
}
