package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("hunter2", nil)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte(`{"access_token":"abc"}`))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "abc")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"abc"}`, string(plain))
}

func TestSealerNoncesDiffer(t *testing.T) {
	s, err := NewSealer("hunter2", []byte("salt"))
	require.NoError(t, err)

	a, err := s.Seal([]byte("x"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSealerWrongPassword(t *testing.T) {
	s1, err := NewSealer("one", nil)
	require.NoError(t, err)
	s2, err := NewSealer("two", nil)
	require.NoError(t, err)

	sealed, err := s1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.Error(t, err)
}

func TestSealerRejectsBadInput(t *testing.T) {
	_, err := NewSealer("", nil)
	assert.Error(t, err)

	s, err := NewSealer("pw", nil)
	require.NoError(t, err)
	_, err = s.Open([]byte("not json"))
	assert.Error(t, err)
	_, err = s.Open([]byte(`{"version":9,"nonce":"","ciphertext":""}`))
	assert.Error(t, err)
}
