package serve

import (
	"slices"
	"strings"

	"github.com/everydev1618/devspace/realtime"
	"github.com/everydev1618/devspace/terminal"
)

// MembersAuthorizer admits a user to a workspace room, or to the workspace's
// terminal room, only when listed in members[workspaceID]. Rooms of
// workspaces without an entry are open.
func MembersAuthorizer(members map[string][]string) realtime.Authorizer {
	if len(members) == 0 {
		return realtime.AllowAll
	}
	termPrefix := terminal.Room("")
	return realtime.AuthorizerFunc(func(userID, room string) bool {
		workspaceID := strings.TrimPrefix(room, termPrefix)
		users, ok := members[workspaceID]
		return !ok || slices.Contains(users, userID)
	})
}
