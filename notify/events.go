// Copyright 2025 The darve-server Authors
// This file is part of darve-server.
//
// darve-server is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// darve-server is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with darve-server. If not, see <http://www.gnu.org/licenses/>.

package notify

// The closed set of notification event kinds. Payload shape per kind is
// carried opaquely through the notification metadata.
const (
	EvUserFollowAdded            = "UserFollowAdded"
	EvUserTaskRequestCreated     = "UserTaskRequestCreated"
	EvUserTaskRequestReceived    = "UserTaskRequestReceived"
	EvUserTaskRequestDelivered   = "UserTaskRequestDelivered"
	EvUserChatMessage            = "UserChatMessage"
	EvUserBalanceUpdate          = "UserBalanceUpdate"
	EvUserCommunityPost          = "UserCommunityPost"
	EvUserLikePost               = "UserLikePost"
	EvUserStatus                 = "UserStatus"
	EvDiscussionPostAdded        = "DiscussionPostAdded"
	EvDiscussionPostReplyAdded   = "DiscussionPostReplyAdded"
	EvDiscussionPostReplyNrIncr  = "DiscussionPostReplyNrIncreased"
)

var knownEvents = map[string]struct{}{
	EvUserFollowAdded:           {},
	EvUserTaskRequestCreated:    {},
	EvUserTaskRequestReceived:   {},
	EvUserTaskRequestDelivered:  {},
	EvUserChatMessage:           {},
	EvUserBalanceUpdate:         {},
	EvUserCommunityPost:         {},
	EvUserLikePost:              {},
	EvUserStatus:                {},
	EvDiscussionPostAdded:       {},
	EvDiscussionPostReplyAdded:  {},
	EvDiscussionPostReplyNrIncr: {},
}

// KnownEvent reports whether kind belongs to the closed event set.
func KnownEvent(kind string) bool {
	_, ok := knownEvents[kind]
	return ok
}
