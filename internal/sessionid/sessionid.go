// Package sessionid derives the durable identifiers that bind a Slack
// conversation to an agent runtime session.
package sessionid

import (
	"strings"

	"github.com/google/uuid"
)

// namespace is the fixed UUID v5 namespace for session derivation. Changing
// it silently fragments every existing conversation session, so it is frozen.
var namespace = uuid.MustParse("a1b2c3d4-e5f6-5678-9abc-def012345678")

// Derive maps a conversation thread key to a stable session id. The same
// thread key always yields the same id; distinct keys collide only with
// SHA-1 probability. The 36-char UUID form satisfies the runtime's 33-char
// session id minimum.
func Derive(threadKey string) string {
	return uuid.NewSHA1(namespace, []byte(strings.TrimSpace(threadKey))).String()
}

// UserKey builds the durable per-user identity key handed to the agent
// runtime and the identity broker.
func UserKey(teamID, userID string) string {
	return "slack-" + strings.TrimSpace(teamID) + "-" + strings.TrimSpace(userID)
}
