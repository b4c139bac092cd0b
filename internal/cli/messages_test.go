package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadPayloadFromArgs(t *testing.T) {
	p, err := readPayload([]string{"hello", "mesh"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []byte("hello mesh"), p)

	_, err = readPayload(nil)
	assert.Error(t, err)
}

func TestFirstNBytes(t *testing.T) {
	assert.Equal(t, []byte("ab"), firstNBytes([]byte("ab"), 5))
	assert.Equal(t, []byte("abc"), firstNBytes([]byte("abcdef"), 3))
}
