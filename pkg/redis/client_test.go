package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobEscape(t *testing.T) {
	assert.Equal(t, `a\*b\?`, globEscape("a*b?"))
	assert.Equal(t, `ss/\[draft\]`, globEscape("ss/[draft]"))
	assert.Equal(t, `c:\\tmp`, globEscape(`c:\tmp`))
}
