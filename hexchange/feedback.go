// Package hexchange defines the feedback values the consensus core
// reports back to the transport layer about individual messages.
package hexchange

// Feedback is an indicator returned to the transport layer
// about a particular inbound message.
//
// Depending on the transport implementation,
// feedback may raise or lower a peer's score,
// eventually preferring or rejecting that peer's messages.
type Feedback uint8

// Valid feedback values.
//
//go:generate go run golang.org/x/tools/cmd/stringer -type Feedback -trimprefix=Feedback
const (
	// FeedbackUnspecified is the zero value for Feedback.
	// Returning FeedbackUnspecified is a bug.
	FeedbackUnspecified Feedback = iota

	// FeedbackAccepted indicates the input was valid
	// and the message should continue to propagate.
	FeedbackAccepted

	// FeedbackRejected indicates the input was invalid,
	// the message should not propagate,
	// and the sender should be penalized.
	FeedbackRejected

	// FeedbackIgnored indicates the input was not useful
	// and should not propagate,
	// but the sender should not be penalized.
	// This covers duplicates and stale rounds under at-least-once delivery.
	FeedbackIgnored

	// FeedbackRejectAndDisconnect indicates the input appeared malicious.
	// The message will not propagate,
	// and no further messages should be exchanged with that peer.
	FeedbackRejectAndDisconnect
)
