package model

import "time"

type InvitationType int

const (
	FriendInvitation InvitationType = iota
	AcceptedFriendInvitation
	EventInvitation
)

type InvitationStatus int

const (
	InvitationUnread InvitationStatus = iota
	InvitationRead
	InvitationAccepted
	InvitationDeclined
)

// InvitationSnapshot is the immutable transfer view of an invitation.
// Friend-flavoured invitations carry User, event invitations carry Event.
type InvitationSnapshot struct {
	ID        int64            `json:"id"`
	Type      InvitationType   `json:"type"`
	Status    InvitationStatus `json:"status"`
	User      *UserSnapshot    `json:"user,omitempty"`
	Event     *EventSnapshot   `json:"event,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// InvitationBag is one gateway pull of pending server-side notifications.
// Each removed friend id must be acknowledged back to the gateway once
// consumed.
type InvitationBag struct {
	Invitations      []InvitationSnapshot
	RemovedFriendIDs []int64
}
