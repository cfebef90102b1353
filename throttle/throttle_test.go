package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActionKeyValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, ActionKey{ActorID: "user-42", ActionType: "create_review"}.Validate())
	require.ErrorIs(t, ActionKey{ActionType: "create_review"}.Validate(), ErrInvalidKey)
	require.ErrorIs(t, ActionKey{ActorID: "user-42"}.Validate(), ErrInvalidKey)
	require.ErrorIs(t, ActionKey{}.Validate(), ErrInvalidKey)
}

func TestActionKeyString(t *testing.T) {
	t.Parallel()

	key := ActionKey{ActorID: "user-42", ActionType: "create_review"}
	require.Equal(t, "user-42:create_review", key.String())
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Policy{MaxAttempts: 1, Window: time.Second}.Validate())
	require.ErrorIs(t, Policy{MaxAttempts: 0, Window: time.Second}.Validate(), ErrInvalidPolicy)
	require.ErrorIs(t, Policy{MaxAttempts: -3, Window: time.Second}.Validate(), ErrInvalidPolicy)
	require.ErrorIs(t, Policy{MaxAttempts: 5, Window: 0}.Validate(), ErrInvalidPolicy)
	require.ErrorIs(t, Policy{MaxAttempts: 5, Window: -time.Second}.Validate(), ErrInvalidPolicy)
}
