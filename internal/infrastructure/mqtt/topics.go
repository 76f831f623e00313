package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for Cragline.
const (
	// TopicPrefix is the root of every Cragline topic.
	TopicPrefix = "cragline"

	// TopicPrefixAuth is the base for authentication topics.
	TopicPrefixAuth = "cragline/auth"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "cragline/system"
)

// Topics provides builders for Cragline MQTT topics.
//
//	topic := mqtt.Topics{}.AuthEvent("session_revoke")
//	// Returns: "cragline/auth/events/session_revoke"
type Topics struct{}

// AuthEvent returns the topic for one kind of security event.
//
// Example: cragline/auth/events/login
func (Topics) AuthEvent(action string) string {
	return fmt.Sprintf("%s/events/%s", TopicPrefixAuth, sanitizeSegment(action))
}

// UserSessions returns the topic for session changes of one user.
//
// Example: cragline/auth/users/usr-1234/sessions
func (Topics) UserSessions(userID string) string {
	return fmt.Sprintf("%s/users/%s/sessions", TopicPrefixAuth, sanitizeSegment(userID))
}

// SystemStatus returns the topic for Core online/offline status (retained, LWT).
//
// Example: cragline/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllAuthEvents returns a wildcard subscription for every security event.
//
// Example: cragline/auth/events/#
func (Topics) AllAuthEvents() string {
	return TopicPrefixAuth + "/events/#"
}

// sanitizeSegment keeps a value from adding levels or wildcards to a topic.
func sanitizeSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
