package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/errors"
)

func TestDocument_Body(t *testing.T) {
	assert.Equal(t, "c", Document{Content: "c", Summary: "s"}.Body())
	assert.Equal(t, "s", Document{Summary: "s"}.Body())
}

func TestResponse_Err(t *testing.T) {
	assert.NoError(t, Response{Type: TypeReady}.Err())

	err := Response{Type: TypeError, Code: CodeNoCachedIndices, Error: "no cached indices"}.Err()
	assert.Equal(t, apperrors.ErrNoCachedIndices, err)

	err = Response{Type: TypeError, Code: CodeStaleIndices, Error: "manifest fp mismatch"}.Err()
	assert.ErrorIs(t, err, apperrors.ErrStaleIndices)
	assert.Contains(t, err.Error(), "manifest fp mismatch")

	assert.ErrorIs(t, Response{Type: TypeError, Error: "boom"}.Err(), apperrors.ErrInternal)
}

func TestResponse_Terminal(t *testing.T) {
	assert.True(t, Response{Type: TypeBuilt}.Terminal())
	assert.True(t, Response{Type: TypeError}.Terminal())
	assert.False(t, Response{Type: TypeSectionBuilt}.Terminal())
}
