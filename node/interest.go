package node

import "strings"

// Token identifies a registration with the poller.
type Token uint64

const (
	ListenerToken Token = 0
	WakeToken     Token = 1

	firstConnToken Token = 2
)

// Interest is the readiness a registration subscribes to.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable

	ReadWrite = Readable | Writable
)

func (i Interest) IsReadable() bool {
	return i&Readable != 0
}

func (i Interest) IsWritable() bool {
	return i&Writable != 0
}

func (i Interest) String() string {
	var parts []string
	if i.IsReadable() {
		parts = append(parts, "readable")
	}
	if i.IsWritable() {
		parts = append(parts, "writable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is one entry of a poll batch.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
}
