package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotRoomMember       = errors.New("not a member of the room")
	ErrRoomFull            = errors.New("room is full")
	ErrAlreadySharing      = errors.New("already sharing a screen")
	ErrNotSharing          = errors.New("not sharing a screen")
	ErrScreenShareDisabled = errors.New("screen sharing is disabled for this channel")
	ErrStaleConnection     = errors.New("connection is no longer on record")
)
