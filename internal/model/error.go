package model

import "errors"

var ErrorUserNotFound = errors.New("user not found")
var ErrorEventNotFound = errors.New("event not found")
var ErrorInvitationNotFound = errors.New("invitation not found")
var ErrorInvalidID = errors.New("invalid id")
var ErrorEmptyName = errors.New("name must not be empty")
var ErrorNoParticipants = errors.New("participant set must not be empty")
