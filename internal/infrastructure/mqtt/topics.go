package mqtt

import "fmt"

// defaultTopicPrefix is used when the config leaves the prefix empty.
const defaultTopicPrefix = "hubwire"

// Topics builds hubwire topic names under a configurable prefix.
//
//	topics := mqtt.NewTopics("hubwire")
//	topics.Message("stateChanged") // "hubwire/message/stateChanged"
type Topics struct {
	prefix string
}

// NewTopics creates a topic builder. An empty prefix falls back to "hubwire".
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Status returns the bridge status topic, used for online/offline messages
// and the LWT.
//
// Example: hubwire/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

// Message returns the republish topic for one hub invocation target.
//
// Example: hubwire/message/stateChanged
func (t Topics) Message(target string) string {
	return fmt.Sprintf("%s/message/%s", t.prefix, target)
}

// Connection returns the topic for hub connection state changes.
//
// Example: hubwire/connection
func (t Topics) Connection() string {
	return fmt.Sprintf("%s/connection", t.prefix)
}

// Event returns the topic for operational events (reconnects, drops).
//
// Example: hubwire/event/reconnect
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix, kind)
}

// AllMessages returns a pattern matching every republished hub message.
//
// Pattern: hubwire/message/+
func (t Topics) AllMessages() string {
	return fmt.Sprintf("%s/message/+", t.prefix)
}
