package supervisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputTailRetainsRecentBytes(t *testing.T) {
	tail := newOutputTail(16)

	n, err := tail.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "0123456789", tail.String())

	_, err = tail.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	assert.Equal(t, "456789abcdefghij", tail.String())
}

func TestOutputTailOversizedWrite(t *testing.T) {
	tail := newOutputTail(8)

	big := strings.Repeat("x", 100) + "tail-end"
	_, err := tail.Write([]byte(big))
	require.NoError(t, err)
	assert.Equal(t, "tail-end", tail.String())
}

func TestOutputTailReset(t *testing.T) {
	tail := newOutputTail(16)
	_, _ = tail.Write([]byte("something"))
	tail.Reset()
	assert.Empty(t, tail.String())
}
