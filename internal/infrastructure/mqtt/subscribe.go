package mqtt

import (
	"fmt"
	"sort"
)

// Subscribe registers handler for a topic filter.
//
// Filters may use "+" for one level and a trailing "#" for the rest, e.g.
// "graylogic/raw/tuya/#" for every inbound gateway message. Handlers run on
// paho's goroutines; a returned error or panic is logged and the message is
// still acknowledged.
//
// Subscriptions are remembered and re-established after a reconnect.
// Subscribing again to the same filter replaces its handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validateTopicFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := subscription{topic: filter, qos: qos, handler: handler}
	c.subMu.Lock()
	previous, hadPrevious := c.subscriptions[filter]
	c.subscriptions[filter] = sub
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.subMu.Lock()
		if hadPrevious {
			c.subscriptions[filter] = previous
		} else {
			delete(c.subscriptions, filter)
		}
		c.subMu.Unlock()
		return err
	}
	return nil
}

// Subscriptions returns the tracked topic filters, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	out := make([]string, 0, len(c.subscriptions))
	for filter := range c.subscriptions {
		out = append(out, filter)
	}
	c.subMu.RUnlock()

	sort.Strings(out)
	return out
}

// restoreSubscriptions re-subscribes every tracked filter after a reconnect.
// It runs inside paho's connect callback, so acknowledgements are awaited in
// the background and failures only logged.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go func(filter string) {
			if err := await(token, ErrSubscribeFailed); err != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT resubscribe failed", "topic", filter, "error", err)
				}
			}
		}(sub.topic)
	}
}
