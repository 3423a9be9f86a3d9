package types

import "strings"

// Channel identifies the delivery transport of a reminder.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

// AllChannels lists the closed set of supported channels.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// ParseChannel normalizes a channel name. Unknown names are returned
// upper-cased and fail Valid().
func ParseChannel(s string) Channel {
	return Channel(strings.ToUpper(strings.TrimSpace(s)))
}

// ScheduleMode describes how a schedule was evaluated.
type ScheduleMode string

const (
	ScheduleModeNone  ScheduleMode = "none"
	ScheduleModeCron  ScheduleMode = "cron"
	ScheduleModeFixed ScheduleMode = "fixed"
)
