// Package control implements the control-message handler: classifies
// an inbound message as normal work vs. control (reconnect),
// producing the canonical disconnect reply and a sleep hint for the
// session loop.
package control

import (
	"strconv"
	"time"

	"github.com/flwr-go/flower-node/client/message"
)

// sleepSecondsHeader is the key under which the reconnect directive's
// sleep-seconds value is carried in a TypeReconnect message's Payload.
// The payload is otherwise opaque; this package parses just this one
// convention.
const sleepSecondsHeader = "sleep_seconds"

// Handle inspects msg. If it is a reconnect control message, it
// synthesizes a disconnect reply (Payload carries a "reason" marker)
// and returns (reply, sleepDuration, true). sleepDuration of 0 means
// terminate after send; >0 means reconnect after that delay. For any
// other message type, Handle returns (zero, 0, false) and the caller
// proceeds to application handling.
func Handle(msg message.Message) (message.Message, time.Duration, bool) {
	if !msg.IsControl() {
		return message.Message{}, 0, false
	}

	sleepSeconds := parseSleepSeconds(msg.Payload)
	reply := msg.NewReply([]byte("reason=disconnect"))
	return reply, time.Duration(sleepSeconds) * time.Second, true
}

// parseSleepSeconds extracts the sleep-seconds hint from a reconnect
// control message's payload, formatted as "sleep_seconds=<n>". An
// unparseable or missing value defaults to 0 (terminate).
func parseSleepSeconds(payload []byte) int64 {
	const prefix = sleepSecondsHeader + "="
	s := string(payload)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return 0
	}
	n, err := strconv.ParseInt(s[len(prefix):], 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// EncodeReconnect builds the payload for a TypeReconnect message
// carrying the given sleep-seconds hint, the counterpart to
// parseSleepSeconds. Exposed for transport implementations and tests
// that need to synthesize a broker-issued reconnect directive.
func EncodeReconnect(sleepSeconds int64) []byte {
	return []byte(sleepSecondsHeader + "=" + strconv.FormatInt(sleepSeconds, 10))
}
