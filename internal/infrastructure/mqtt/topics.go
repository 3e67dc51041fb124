package mqtt

import "strings"

// Topic suffixes below the configured base.
const (
	statusSuffix  = "status"
	commandSuffix = "set"
	healthSuffix  = "bridge/health"
)

// Topics builds the bridge's topic names under a common base.
//
//	topics := mqtt.NewTopics("gree")
//	topics.State("f4911e7aca59")   // "gree/f4911e7aca59"
//	topics.Command("f4911e7aca59") // "gree/f4911e7aca59/set"
type Topics struct {
	Base string
}

// NewTopics returns a builder for base with any trailing slash removed.
func NewTopics(base string) Topics {
	return Topics{Base: strings.TrimRight(base, "/")}
}

// State returns the topic device state is published on.
func (t Topics) State(deviceID string) string {
	return t.Base + "/" + deviceID
}

// Command returns the topic commands for a device arrive on.
func (t Topics) Command(deviceID string) string {
	return t.State(deviceID) + "/" + commandSuffix
}

// Status returns the bridge availability topic.
func (t Topics) Status() string {
	return t.Base + "/" + statusSuffix
}

// Health returns the topic the periodic health report is published on.
func (t Topics) Health() string {
	return t.Base + "/" + healthSuffix
}
