package crc32c

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumIsDeterministicAndSensitiveToInput(t *testing.T) {
	a := Checksum([]byte("hello"))
	b := Checksum([]byte("hello"))
	c := Checksum([]byte("hellp"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestDigestMatchesChecksumOfConcatenatedSpans(t *testing.T) {
	whole := Checksum([]byte("helloworld"))

	d := New()
	d.Write([]byte("hello"))
	d.Write([]byte("world"))
	require.Equal(t, whole, d.Sum32())
}
