package services

import (
	"context"
	"time"

	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/realtime"
)

// NewTopicAuthorizer builds the subscription guard for the realtime hub.
// Channel topics require channel access, project topics require project
// membership, and per-user topics only admit their owner.
func NewTopicAuthorizer(channels *ChannelService, directory identity.Directory) realtime.TopicAuthorizer {
	return func(userID, topic string) bool {
		parsed, ok := realtime.ParseTopic(topic)
		if !ok {
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		switch parsed.Kind {
		case realtime.TopicKindChannel:
			return channels.CanAccess(ctx, parsed.ChannelID, userID)
		case realtime.TopicKindProjectChannels:
			_, err := directory.Membership(ctx, parsed.ProjectID, userID)
			return err == nil
		case realtime.TopicKindChannelStatus:
			return parsed.UserID == userID && channels.CanAccess(ctx, parsed.ChannelID, userID)
		case realtime.TopicKindNotifications:
			return parsed.UserID == userID
		}
		return false
	}
}
