package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssembleNormalizesWhitespaceAndTrailingSpace(t *testing.T) {
	t.Parallel()

	got := Assemble([]string{" hello", "world  ", "\nfrom", "sotto"}, Options{TrailingSpace: true})
	require.Equal(t, "hello world from sotto ", got)
}

func TestAssembleWithoutTrailingSpace(t *testing.T) {
	t.Parallel()

	got := Assemble([]string{"hello", "world"}, Options{})
	require.Equal(t, "hello world", got)
}

func TestAssembleEmptyInput(t *testing.T) {
	t.Parallel()

	require.Empty(t, Assemble(nil, Options{TrailingSpace: true}))
}

func TestAssembleSkipsWhitespaceOnlySegments(t *testing.T) {
	t.Parallel()

	got := Assemble([]string{"  ", "\n\t", "hello"}, Options{})
	require.Equal(t, "hello", got)
}

func TestAssembleIdempotentForNormalizedOutput(t *testing.T) {
	t.Parallel()

	first := Assemble([]string{"hello", "world"}, Options{})
	second := Assemble([]string{first}, Options{})
	require.Equal(t, first, second)
}

func TestAssembleCapitalizesSentencesWhenConfigured(t *testing.T) {
	t.Parallel()

	got := Assemble([]string{"hello there. how are you"}, Options{CapitalizeSentences: true})
	require.Equal(t, "Hello there. How are you", got)
}
