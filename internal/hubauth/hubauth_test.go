package hubauth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledWhenUnconfigured(t *testing.T) {
	a := New(Config{})
	require.False(t, a.IsEnabled())
	require.False(t, a.Authenticate("anything", ""))
}

func TestTokenMatch(t *testing.T) {
	a := New(Config{Token: "s3cret"})
	require.True(t, a.IsEnabled())
	require.True(t, a.Authenticate("s3cret", ""))
}

func TestTokenMismatch(t *testing.T) {
	a := New(Config{Token: "s3cret"})
	require.False(t, a.Authenticate("wrong", ""))
	require.False(t, a.Authenticate("", ""))
}

func TestPasswordHashMatch(t *testing.T) {
	a := New(Config{PasswordHash: "abc123"})
	require.True(t, a.Authenticate("", "abc123"))
	require.False(t, a.Authenticate("", "abc124"))
}

func TestTokenTakesPrecedenceOverPassword(t *testing.T) {
	a := New(Config{Token: "s3cret", PasswordHash: "abc123"})
	require.True(t, a.Authenticate("s3cret", ""))
}
