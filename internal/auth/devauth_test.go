package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevVerifier_AcceptsMatchingUserAndPassword(t *testing.T) {
	v, err := NewDevVerifier(`^dev_.*$`, "hunter2")
	require.NoError(t, err)

	ok, err := v.Verify(context.Background(), "dev_alice", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDevVerifier_RejectsWrongPassword(t *testing.T) {
	v, err := NewDevVerifier(`^dev_.*$`, "hunter2")
	require.NoError(t, err)

	ok, err := v.Verify(context.Background(), "dev_alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDevVerifier_RejectsNonMatchingUser(t *testing.T) {
	v, err := NewDevVerifier(`^dev_.*$`, "hunter2")
	require.NoError(t, err)

	ok, err := v.Verify(context.Background(), "prod_alice", "hunter2")
	require.NoError(t, err)
	assert.False(t, ok)
}
