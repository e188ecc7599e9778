package domain

import "time"

// EventKind classifies an inbound event from a channel.
type EventKind string

const (
	// EventMessage is a regular group message to record.
	EventMessage EventKind = "message"
	// EventSummary is an explicit summary command.
	EventSummary EventKind = "summary"
	// EventMention is an @-mention of the bot asking for a reply.
	EventMention EventKind = "mention"
)

// InboundEvent is what a channel publishes for the engine to handle.
type InboundEvent struct {
	Kind    EventKind
	Channel string
	ChatID  int64
	UserID  int64

	// Record is set for EventMessage.
	Record MessageRecord

	// PhotoURL is the direct download URL for the largest photo size when
	// the message carried an image; empty otherwise.
	PhotoURL string

	// Username and RangeToken are set for EventSummary; RangeToken is the
	// optional "30m"/"2h"/"1d" argument, empty when absent.
	Username   string
	RangeToken string

	// Text is the mention text for EventMention.
	Text string

	// LoadingMessageID is the placeholder message the channel already sent;
	// the engine's reply edits it in place when non-zero.
	LoadingMessageID int

	Timestamp time.Time
}

// OutboundMessage is the engine's reply back to a channel.
type OutboundMessage struct {
	Channel string
	ChatID  int64
	Content string

	// EditMessageID, when non-zero, replaces that message instead of
	// sending a new one.
	EditMessageID int
}

// MessageBus routes events between channels and the engine.
type MessageBus interface {
	Publish(evt InboundEvent)
	Subscribe() <-chan InboundEvent
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
