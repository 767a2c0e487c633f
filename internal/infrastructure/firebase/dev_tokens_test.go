package firebase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevTokenVerifier(t *testing.T) {
	var v TokenVerifier = DevTokenVerifier{}

	uid, err := v.VerifyToken(context.Background(), DevToken("alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	for _, token := range []string{"", "alice", "dev-"} {
		_, err := v.VerifyToken(context.Background(), token)
		assert.Error(t, err, token)
	}
}
