package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit on a topic name in bytes.
const maxTopicLength = 65535

// validatePublishTopic rejects names a broker would refuse for PUBLISH:
// empty, wildcards, NUL, invalid UTF-8 or oversized.
func validatePublishTopic(topic string) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: %d bytes", ErrInvalidTopic, len(topic))
	case !utf8.ValidString(topic):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidTopic)
	case strings.ContainsAny(topic, "+#\x00"):
		return fmt.Errorf("%w: %q contains a wildcard or NUL", ErrInvalidTopic, topic)
	}
	return nil
}
