package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNode, _ = snowflake.NewNode(6)

func TestOrgIDRoundtrip(t *testing.T) {
	orgID := testNode.Generate()
	ctx := WithOrgID(context.Background(), orgID)

	got, ok := OrgIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, orgID, got)
}

func TestUserIDRoundtrip(t *testing.T) {
	userID := testNode.Generate()
	ctx := WithUserID(context.Background(), userID)

	got, ok := UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, userID, got)
}

func TestMissingValues(t *testing.T) {
	_, ok := OrgIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = UserIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = OrgIDFromContext(nil) //nolint:staticcheck
	assert.False(t, ok)
}
