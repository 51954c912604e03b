package realtime

import (
	"fmt"
	"strings"
)

// Topic kinds recognised by the subscription authorizer.
const (
	TopicKindChannel         = "channel"
	TopicKindProjectChannels = "project-channels"
	TopicKindChannelStatus   = "channel-status"
	TopicKindNotifications   = "notifications"
)

// ChannelTopic carries message lifecycle events for a single channel.
func ChannelTopic(channelID string) string {
	return fmt.Sprintf("channel:%s", channelID)
}

// ProjectChannelsTopic carries channel lifecycle events for a project.
func ProjectChannelsTopic(projectID string) string {
	return fmt.Sprintf("project-channels:%s", projectID)
}

// ChannelStatusTopic carries per-user read-state updates for a channel.
func ChannelStatusTopic(channelID, userID string) string {
	return fmt.Sprintf("channel-status:%s:%s", channelID, userID)
}

// NotificationsTopic carries in-app notification events for a single user.
func NotificationsTopic(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

// ParsedTopic is the decoded form of a topic string.
type ParsedTopic struct {
	Kind      string
	ChannelID string
	ProjectID string
	UserID    string
}

// ParseTopic decodes a topic string into its kind and identifiers. It reports
// false for topics that match no known shape.
func ParseTopic(topic string) (ParsedTopic, bool) {
	parts := strings.Split(strings.TrimSpace(topic), ":")
	switch {
	case len(parts) == 2 && parts[0] == TopicKindChannel && parts[1] != "":
		return ParsedTopic{Kind: TopicKindChannel, ChannelID: parts[1]}, true
	case len(parts) == 2 && parts[0] == TopicKindProjectChannels && parts[1] != "":
		return ParsedTopic{Kind: TopicKindProjectChannels, ProjectID: parts[1]}, true
	case len(parts) == 3 && parts[0] == TopicKindChannelStatus && parts[1] != "" && parts[2] != "":
		return ParsedTopic{Kind: TopicKindChannelStatus, ChannelID: parts[1], UserID: parts[2]}, true
	case len(parts) == 2 && parts[0] == TopicKindNotifications && parts[1] != "":
		return ParsedTopic{Kind: TopicKindNotifications, UserID: parts[1]}, true
	}
	return ParsedTopic{}, false
}
