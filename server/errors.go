package server

import "errors"

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSpaceNotFound   = errors.New("space not found")
	ErrAlreadyJoined   = errors.New("connection already joined a space")
	ErrSpaceFull       = errors.New("no free spawn cell in space")
	ErrSessionRetired  = errors.New("space session retired")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrConnectionLost  = errors.New("connection lost")
	ErrInvalidGeometry = errors.New("invalid space geometry")
)
