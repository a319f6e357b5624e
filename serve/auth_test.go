package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMembersAuthorizer(t *testing.T) {
	auth := MembersAuthorizer(map[string][]string{"ws-1": {"alice"}})

	assert.True(t, auth.CanJoin("alice", "ws-1"))
	assert.False(t, auth.CanJoin("bob", "ws-1"))
	assert.True(t, auth.CanJoin("alice", "terminal:ws-1"))
	assert.False(t, auth.CanJoin("bob", "terminal:ws-1"))
	assert.True(t, auth.CanJoin("bob", "ws-2"), "unlisted workspaces are open")

	assert.True(t, MembersAuthorizer(nil).CanJoin("anyone", "ws-1"))
}
