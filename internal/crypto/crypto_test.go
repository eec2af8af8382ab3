package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_VerifyRoundTrip(t *testing.T) {
	encoded, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	match, err := VerifyPassword("s3cret", encoded)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestVerifyPassword_WrongPassword(t *testing.T) {
	encoded, err := HashPassword("s3cret")
	require.NoError(t, err)

	match, err := VerifyPassword("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	first, err := HashPassword("same")
	require.NoError(t, err)
	second, err := HashPassword("same")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=1,p=4$!!!$a2V5",
	} {
		_, err := VerifyPassword("pw", encoded)
		assert.ErrorIs(t, err, ErrInvalidHash, "hash %q", encoded)
	}
}
