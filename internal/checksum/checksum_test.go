package checksum

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSHA256KnownValue(t *testing.T) {
	v, err := Of(SHA256, strings.NewReader("hello, world!\n"))
	require.NoError(t, err)
	require.Equal(t, "4dca0fd5f424a31b03ab807cbae77eb32bf2d089eed1cee154b3afed458de0dc", v.Hex)
	require.Equal(t, "sha256:4dca0fd5f424a31b03ab807cbae77eb32bf2d089eed1cee154b3afed458de0dc", v.String())
}

func TestValueRoundTrip(t *testing.T) {
	v, err := OfBytes(Blake3, []byte("some bytes"))
	require.NoError(t, err)
	s := v.String()
	parsed, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, v, parsed)
}

func TestUnsafeAlwaysVerifies(t *testing.T) {
	err := Verify(Value{Algorithm: Unsafe}, strings.NewReader("anything"))
	require.NoError(t, err)
}

func TestVerifyDetectsMismatch(t *testing.T) {
	v, err := OfBytes(SHA256, []byte("a"))
	require.NoError(t, err)
	err = Verify(v, strings.NewReader("b"))
	require.Error(t, err)
}

func TestParseRejectsUnknownAlgorithm(t *testing.T) {
	_, err := Parse("md5:deadbeef")
	require.Error(t, err)
}
