package services

import (
	"context"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
)

// allowAllMembership is the default stand-in for the channel-membership
// collaborator. Deployments embedding voicemesh in a full chat server plug in
// their own implementation.
type allowAllMembership struct{}

func NewAllowAllMembership() ports.MembershipService {
	return allowAllMembership{}
}

func (allowAllMembership) IsChannelMember(ctx context.Context, userID domain.UserID, roomID domain.RoomID) bool {
	return true
}
