// Package relay parses the wire protocol irkerd listens for: newline
// delimited JSON objects of the form {"channel": "<url>", "privmsg": "<text>"}.
package relay

import (
	"encoding/json"
	"fmt"
)

// Request is one relay request deserialized off the wire. Extra JSON fields
// are ignored, per the wire protocol.
type Request struct {
	Channel string
	Privmsg string
}

// ParseRequest deserializes one line of the listener protocol. Both
// "channel" and "privmsg" are required string fields; anything else present
// in the object is ignored.
func ParseRequest(line []byte) (*Request, error) {
	var raw struct {
		Channel *string `json:"channel"`
		Privmsg *string `json:"privmsg"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.Channel == nil {
		return nil, fmt.Errorf("missing required field %q", "channel")
	}
	if raw.Privmsg == nil {
		return nil, fmt.Errorf("missing required field %q", "privmsg")
	}
	return &Request{Channel: *raw.Channel, Privmsg: *raw.Privmsg}, nil
}
