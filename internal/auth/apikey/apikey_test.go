package apikey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Contains(t, key, "ss_")

	v := NewValidator([]string{" ", key}, 30)
	assert.True(t, v.Enabled())

	info, err := v.Validate(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, HashKey(key)[:12], info.ID)
	assert.Equal(t, 30, info.RateLimit)

	_, err = v.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidKey)

	assert.False(t, NewValidator(nil, 0).Enabled())
	var nilValidator *Validator
	assert.False(t, nilValidator.Enabled())
}

