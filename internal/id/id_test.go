package id

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentIDRoundTrip(t *testing.T) {
	content := NewContent(KindBlob, []byte("hello, world!\n"))
	s := content.String()
	require.Contains(t, s, string(KindBlob)+"_")

	parsed, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, content, parsed)
	require.Equal(t, KindBlob, parsed.Kind())
}

func TestContentIDDeterministic(t *testing.T) {
	a := NewContent(KindDirectory, []byte("same bytes"))
	b := NewContent(KindDirectory, []byte("same bytes"))
	require.Equal(t, a, b)
	require.Equal(t, a.String(), b.String())
}

func TestTemporalIDRoundTrip(t *testing.T) {
	p := NewTemporal(KindProcess)
	s := p.String()
	parsed, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, p, parsed)
	require.Equal(t, p.UUID(), parsed.UUID())
}

func TestTemporalIDsAreUnique(t *testing.T) {
	a := NewTemporal(KindProcess)
	b := NewTemporal(KindProcess)
	require.NotEqual(t, a.String(), b.String())
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse("bogus_AAAA")
	require.Error(t, err)
}

func TestParseRejectsMissingPrefix(t *testing.T) {
	_, err := Parse("notanid")
	require.Error(t, err)
}

func TestNewContentPanicsOnTemporalKind(t *testing.T) {
	require.Panics(t, func() { NewContent(KindProcess, []byte("x")) })
}

func TestNewTemporalPanicsOnContentKind(t *testing.T) {
	require.Panics(t, func() { NewTemporal(KindBlob) })
}
