package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types for the social-graph stream
const (
	EventUserFollowed   = "user_followed"
	EventUserUnfollowed = "user_unfollowed"
	EventAvatarOrphaned = "avatar_orphaned"
)

// Stream names
const (
	StreamGraph = "stream:graph"
)

// Consumer group name for the reconciler
const (
	ConsumerGroupGraph = "graph_reconcilers"
)

// GraphEvent is published after the two-sided follow/unfollow mutations and
// whenever an uploaded image loses its owning record. The reconciler
// re-applies the mirror-side mutation (idempotent) or deletes the orphan, so
// a crash between the two data-store writes heals without manual repair.
type GraphEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // Unix timestamp when event occurred

	// Follow events
	FollowerID int64 `json:"follower_id,omitempty"`
	FolloweeID int64 `json:"followee_id,omitempty"`

	// Avatar events
	AvatarKey string `json:"avatar_key,omitempty"`
}

// NewUserFollowedEvent creates an event for when a user follows another.
func NewUserFollowedEvent(followerID, followeeID int64) GraphEvent {
	return GraphEvent{
		Type:       EventUserFollowed,
		Timestamp:  time.Now().Unix(),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

// NewUserUnfollowedEvent creates an event for when a user unfollows another.
func NewUserUnfollowedEvent(followerID, followeeID int64) GraphEvent {
	return GraphEvent{
		Type:       EventUserUnfollowed,
		Timestamp:  time.Now().Unix(),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

// NewAvatarOrphanedEvent creates an event for an uploaded image that no user
// record references.
func NewAvatarOrphanedEvent(key string) GraphEvent {
	return GraphEvent{
		Type:      EventAvatarOrphaned,
		Timestamp: time.Now().Unix(),
		AvatarKey: key,
	}
}

// ToMap serializes the event for XADD field-value pairs.
func (e GraphEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{"payload": string(data)}, nil
}

// FromMap deserializes an event read back from the stream.
func FromMap(values map[string]interface{}) (GraphEvent, error) {
	payload, ok := values["payload"].(string)
	if !ok {
		return GraphEvent{}, fmt.Errorf("missing payload field")
	}
	var e GraphEvent
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return GraphEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}
