package session

import "errors"

var (
	// ErrSessionClosed rejects admission against a terminated session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionFull rejects admission when every controller slot is taken.
	ErrSessionFull = errors.New("session full")
	// ErrNoSuchSession rejects an identifier that has no active session and
	// is not a current candidate.
	ErrNoSuchSession = errors.New("no such session")
	// ErrLockedByOtherHost rejects a device that advertises another host's
	// soft lock.
	ErrLockedByOtherHost = errors.New("device locked by another host")
)
