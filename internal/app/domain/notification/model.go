package notification

import "time"

// Kind classifies a notification.
type Kind string

const (
	KindReply      Kind = "reply"
	KindMention    Kind = "mention"
	KindVote       Kind = "vote"
	KindTransfer   Kind = "transfer"
	KindStake      Kind = "stake"
	KindSettlement Kind = "settlement"
	KindSystem     Kind = "system"
)

// Notification is a per-account event record shown in the notification tray
// and pushed over the realtime channel.
type Notification struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Kind      Kind      `json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
