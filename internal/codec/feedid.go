// Package codec implements the tugcast wire frame format: a one-byte feed
// identifier, a four-byte big-endian length, and a payload.
package codec

import "fmt"

// FeedID is a closed enumeration of stream kinds. The byte values are fixed
// on the wire; a new kind may only ever append a new byte, never reuse or
// renumber one.
type FeedID byte

const (
	TerminalOutput FeedID = 0x00
	TerminalInput  FeedID = 0x01
	TerminalResize FeedID = 0x02

	Filesystem FeedID = 0x10

	Git FeedID = 0x20

	Stats             FeedID = 0x30
	StatsProcessInfo  FeedID = 0x31
	StatsTokenUsage   FeedID = 0x32
	StatsBuildStatus  FeedID = 0x33

	ConversationOutput FeedID = 0x40
	ConversationInput  FeedID = 0x41

	Control FeedID = 0x50

	Heartbeat FeedID = 0xFF
)

var names = map[FeedID]string{
	TerminalOutput:     "TerminalOutput",
	TerminalInput:      "TerminalInput",
	TerminalResize:     "TerminalResize",
	Filesystem:         "Filesystem",
	Git:                "Git",
	Stats:              "Stats",
	StatsProcessInfo:   "StatsProcessInfo",
	StatsTokenUsage:    "StatsTokenUsage",
	StatsBuildStatus:   "StatsBuildStatus",
	ConversationOutput: "ConversationOutput",
	ConversationInput:  "ConversationInput",
	Control:            "Control",
	Heartbeat:          "Heartbeat",
}

// FeedIDFromByte is the total byte -> FeedID function. ok is false for any
// byte outside the fixed registry.
func FeedIDFromByte(b byte) (id FeedID, ok bool) {
	id = FeedID(b)
	_, ok = names[id]
	return id, ok
}

// AsByte is the total FeedID -> byte function. It is injective: distinct
// FeedID constants always produce distinct bytes.
func (f FeedID) AsByte() byte {
	return byte(f)
}

func (f FeedID) String() string {
	if n, ok := names[f]; ok {
		return n
	}
	return fmt.Sprintf("FeedID(0x%02X)", byte(f))
}
