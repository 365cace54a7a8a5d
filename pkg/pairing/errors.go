package pairing

import "errors"

var (
	// ErrNotFound means no pairing exists with the requested ID.
	ErrNotFound = errors.New("pairing not found")
	// ErrSelfPairing rejects an invite addressed to the inviter.
	ErrSelfPairing = errors.New("cannot invite yourself")
	// ErrAlreadyPaired rejects a second accepted pairing for the same two users.
	ErrAlreadyPaired = errors.New("an accepted pairing already exists for these users")
	// ErrNotInvitee means someone other than the invited user tried to resolve the invite.
	ErrNotInvitee = errors.New("only the invited user may accept or decline")
	// ErrNotMember means the caller is not one of the two pairing members.
	ErrNotMember = errors.New("caller is not a pairing member")
	// ErrAlreadyResolved means the pairing already left the pending state.
	ErrAlreadyResolved = errors.New("pairing is no longer pending")
)
