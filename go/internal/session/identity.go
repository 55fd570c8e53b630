package session

import "github.com/google/uuid"

// Identity is the local device's binding to a room. SessionID is stable for
// the device; the rest is set when a room is created or joined and cleared
// when it is left.
type Identity struct {
	SessionID string
	RoomID    uuid.UUID
	PlayerID  uuid.UUID
	IsHost    bool
	// PendingProfileUpdate is set while a profile write is in flight so the
	// presentation layer can keep showing the local edit.
	PendingProfileUpdate bool
}

// InRoom reports whether the identity is bound to a room.
func (i Identity) InRoom() bool {
	return i.RoomID != uuid.Nil
}

func (i *Identity) clear() {
	i.RoomID = uuid.Nil
	i.PlayerID = uuid.Nil
	i.IsHost = false
	i.PendingProfileUpdate = false
}
