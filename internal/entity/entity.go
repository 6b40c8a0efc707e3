// Package entity names the simulated objects shared by the client and server.
package entity

import "strconv"

// ID identifies an entity. IDs are assigned by the server and never reused
// within a session.
type ID uint32

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Kind names a field type; each registered prediction table owns one kind.
type Kind string
