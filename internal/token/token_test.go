package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/proxy/internal/session"
)

func TestIssueAndDecodeRoundTrip(t *testing.T) {
	codec := NewCodec("test-secret")
	claim := session.Claim{UserID: "u1", Username: "alice"}

	tok, err := codec.Issue(claim)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	decoded, err := codec.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, claim, decoded)
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	codec := NewCodec("correct-secret")
	tok, err := codec.Issue(session.Claim{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	other := NewCodec("wrong-secret")
	_, err = other.Decode(tok)
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := NewCodec("test-secret")
	_, err := codec.Decode("not-a-jwt")
	assert.Error(t, err)
}

func TestEmptySecretStillRoundTrips(t *testing.T) {
	codec := NewCodec("")
	claim := session.Claim{UserID: "u2", Username: "bob"}

	tok, err := codec.Issue(claim)
	require.NoError(t, err)

	decoded, err := codec.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, claim, decoded)
}
