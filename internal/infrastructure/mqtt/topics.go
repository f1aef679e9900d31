package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixSystem is the base for service-level status topics. Bridge
// topics are owned by the bridge packages themselves.
const TopicPrefixSystem = "graylogic/system"

// maxTopicLen is the MQTT limit on the UTF-8 length of a topic.
const maxTopicLen = 65535

// StatusTopic returns the retained online/offline topic for a client.
//
// Example: graylogic/system/status/graylogic-tuya
func StatusTopic(clientID string) string {
	return TopicPrefixSystem + "/status/" + clientID
}

// validateTopicName checks a topic that will be published to. Wildcards are
// only meaningful in subscriptions.
func validateTopicName(topic string) error {
	if err := validateTopicCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}

// validateTopicFilter checks a subscription filter: "+" must fill a whole
// level and "#" must be the whole last level.
func validateTopicFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q: '+' must occupy a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateTopicCommon(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	case len(topic) > maxTopicLen:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidTopic, len(topic), maxTopicLen)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidTopic)
	}
	return nil
}
