package natsrooms

import "strings"

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "game"

// Room Manager operations, the last token of each request subject.
const (
	OpSnapshot       = "snapshot"
	OpEventsSince    = "events_since"
	OpJoinSpectator  = "join_spectator"
	OpLeaveSpectator = "leave_spectator"
	OpReady          = "ready"
	OpAction         = "action"
	OpFindByInvite   = "find_by_invite"
	OpGet            = "get"
)

// Operations lists every request operation.
var Operations = []string{
	OpSnapshot, OpEventsSince, OpJoinSpectator, OpLeaveSpectator,
	OpReady, OpAction, OpFindByInvite, OpGet,
}

// Subjects builds the subject names under one prefix.
type Subjects struct {
	Prefix string
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return s.Prefix
}

// Room returns the request subject of a Room Manager operation.
func (s Subjects) Room(op string) string {
	return s.prefix() + ".rooms." + op
}

// Events returns the event subject of one room.
func (s Subjects) Events(roomID string) string {
	return s.prefix() + ".events." + roomID
}

// AllEvents is the wildcard subject matching every room's events.
func (s Subjects) AllEvents() string {
	return s.prefix() + ".events.*"
}

// AuthVerify is the token verification subject.
func (s Subjects) AuthVerify() string {
	return s.prefix() + ".auth.verify"
}

// RoomFromEventSubject extracts the room id, the last subject token.
func (s Subjects) RoomFromEventSubject(subject string) (string, bool) {
	head := s.prefix() + ".events."
	if !strings.HasPrefix(subject, head) {
		return "", false
	}
	id := subject[len(head):]
	if id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}
