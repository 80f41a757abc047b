package protocol

import "fmt"

// ServerError is a structured, client-interpretable error code carried
// by the StructuredError message. The discriminant space is closed on
// the server side but open on the wire: a client built against an older
// catalog decodes unknown discriminants as a "future" error it can
// display without understanding. New codes therefore never break old
// clients.
type ServerError uint8

const (
	// ErrWrongPassword rejects a JoinRoom with a bad password.
	ErrWrongPassword ServerError = 1
	// ErrRoomExists rejects a CreateRoom with a duplicate name.
	ErrRoomExists ServerError = 2
	// ErrNoSuchAccountDiscord rejects a Discord login with no linked account.
	ErrNoSuchAccountDiscord ServerError = 3
	// ErrNoSuchAccountRaceTime rejects a racetime.gg login with no linked account.
	ErrNoSuchAccountRaceTime ServerError = 4
	// ErrSessionExpiredDiscord rejects an expired Discord session token.
	ErrSessionExpiredDiscord ServerError = 5
	// ErrSessionExpiredRaceTime rejects an expired racetime.gg session token.
	ErrSessionExpiredRaceTime ServerError = 6
	// ErrRoomFull rejects joining a room that already has 255 clients.
	ErrRoomFull ServerError = 7
	// ErrRoomNameEmpty rejects creating a room with an empty name.
	ErrRoomNameEmpty ServerError = 8
	// ErrRoomNameTooLong rejects a room name over MaxRoomNameLen characters.
	ErrRoomNameTooLong ServerError = 9
	// ErrNoSuchRoom rejects a JoinRoom for a room that does not exist.
	ErrNoSuchRoom ServerError = 10
	// ErrRoomNameInvalid rejects a room name containing null bytes.
	ErrRoomNameInvalid ServerError = 11
	// ErrPasswordTooLong rejects a password over MaxPasswordLen characters.
	ErrPasswordTooLong ServerError = 12
	// ErrPasswordInvalid rejects a password containing null bytes.
	ErrPasswordInvalid ServerError = 13
)

// RetiredMessageError is returned when decoding a wire message whose
// support was removed from the server. The tag is still recognized so
// the failure names the message instead of looking like corruption.
type RetiredMessageError struct {
	Name string
	Tag  uint8
}

func (e *RetiredMessageError) Error() string {
	return fmt.Sprintf("message %s (tag %d) is no longer supported by this server", e.Name, e.Tag)
}

// UnknownTagError is returned when a frame's discriminant is outside
// the generation's tag space.
type UnknownTagError struct {
	Direction string
	Tag       uint8
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown %s message tag %d", e.Direction, e.Tag)
}

// Known reports whether the code is one this build understands. Unknown
// codes still round-trip through encode/decode unchanged.
func (e ServerError) Known() bool {
	return e >= ErrWrongPassword && e <= ErrPasswordInvalid
}

func (e ServerError) Error() string {
	switch e {
	case ErrWrongPassword:
		return "wrong password"
	case ErrRoomExists:
		return "a room with this name already exists"
	case ErrNoSuchAccountDiscord:
		return "no account associated with this Discord account"
	case ErrNoSuchAccountRaceTime:
		return "no account associated with this racetime.gg account"
	case ErrSessionExpiredDiscord:
		return "this Discord session token has expired"
	case ErrSessionExpiredRaceTime:
		return "this racetime.gg session token has expired"
	case ErrRoomFull:
		return "this room is full"
	case ErrRoomNameEmpty:
		return "room name must not be empty"
	case ErrRoomNameTooLong:
		return "room name too long"
	case ErrNoSuchRoom:
		return "there is no room with this name"
	case ErrRoomNameInvalid:
		return "room name must not contain null characters"
	case ErrPasswordTooLong:
		return "room password too long"
	case ErrPasswordInvalid:
		return "room password must not contain null characters"
	default:
		return fmt.Sprintf("server error #%d", uint8(e))
	}
}
