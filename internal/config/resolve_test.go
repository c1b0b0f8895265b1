package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveValue(t *testing.T) {
	t.Setenv("RELAY_RESOLVE_TEST", "from-env")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  literal  ", "literal"},
		{"${RELAY_RESOLVE_TEST}", "from-env"},
		{"$RELAY_RESOLVE_TEST", "from-env"},
		{"$(printf ' hello ')", "hello"},
	}
	for _, tc := range tests {
		got, err := ResolveValue(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestResolveValueCommandFailure(t *testing.T) {
	_, err := ResolveValue("$(echo nope >&2; exit 3)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestResolveValueBadSRV(t *testing.T) {
	_, err := ResolveValue("srv:///path-only")
	assert.ErrorContains(t, err, "missing host")
}
