package registry

import (
	"strings"
	"sync"
)

// SubscriptionRegistry is the two-way index between subscribers and topics:
// each subscriber knows its own topic set, and each topic knows its
// subscriber set, so both "what is subId subscribed to" and "who gets
// topic's next publish" are O(1) lookups. Grounded on the original
// implementation's SubscriptionContainer (object.py), generalized from a
// connection-keyed dict to a plain subscriber-id index — the connection
// itself lives in the server's connection table, not here.
type SubscriptionRegistry struct {
	mu        sync.RWMutex
	subTopics map[string]map[string]struct{} // subId -> topics
	topicSubs map[string]map[string]struct{} // topic -> subIds
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subTopics: make(map[string]map[string]struct{}),
		topicSubs: make(map[string]map[string]struct{}),
	}
}

// HasSubscriber reports whether subId is currently registered (added via
// AddSubscriber — add_sub in the original — and not since removed).
func (r *SubscriptionRegistry) HasSubscriber(subId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subTopics[subId]
	return ok
}

// AddSubscriber registers subId with no topics, if not already present. A
// no-op if subId already exists.
func (r *SubscriptionRegistry) AddSubscriber(subId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subTopics[subId]; !ok {
		r.subTopics[subId] = make(map[string]struct{})
	}
}

// AddTopics joins subId to each topic in topics (already-normalized,
// lowercase trimmed strings — callers normalize via message.normalizeTopicList
// before reaching here), returning the subset that were newly added (a topic
// subId was already subscribed to is not repeated). subId must already be
// registered via AddSubscriber.
func (r *SubscriptionRegistry) AddTopics(subId string, topics []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subSet, ok := r.subTopics[subId]
	if !ok {
		return nil
	}

	added := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		if _, already := subSet[topic]; already {
			continue
		}
		subSet[topic] = struct{}{}

		subs, ok := r.topicSubs[topic]
		if !ok {
			subs = make(map[string]struct{})
			r.topicSubs[topic] = subs
		}
		subs[subId] = struct{}{}

		added = append(added, topic)
	}
	return added
}

// RemoveTopics removes subId from each topic in topics, returning the
// subset that were actually removed.
func (r *SubscriptionRegistry) RemoveTopics(subId string, topics []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subSet, ok := r.subTopics[subId]
	if !ok {
		return nil
	}

	removed := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		if _, present := subSet[topic]; !present {
			continue
		}
		delete(subSet, topic)

		if subs, ok := r.topicSubs[topic]; ok {
			delete(subs, subId)
			if len(subs) == 0 {
				delete(r.topicSubs, topic)
			}
		}

		removed = append(removed, topic)
	}
	return removed
}

// AllTopics returns every topic subId currently subscribes to.
func (r *SubscriptionRegistry) AllTopics(subId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subSet, ok := r.subTopics[subId]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(subSet))
	for topic := range subSet {
		out = append(out, topic)
	}
	return out
}

// RemoveSubscriber drops subId entirely, unwinding it from every topic it
// was subscribed to. Safe to call on an unknown subId (no-op).
func (r *SubscriptionRegistry) RemoveSubscriber(subId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subSet, ok := r.subTopics[subId]
	if !ok {
		return
	}
	for topic := range subSet {
		if subs, ok := r.topicSubs[topic]; ok {
			delete(subs, subId)
			if len(subs) == 0 {
				delete(r.topicSubs, topic)
			}
		}
	}
	delete(r.subTopics, subId)
}

// SubscribersOf returns every subscriber id currently subscribed to topic.
func (r *SubscriptionRegistry) SubscribersOf(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topic = strings.ToLower(strings.TrimSpace(topic))
	subs, ok := r.topicSubs[topic]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(subs))
	for subId := range subs {
		out = append(out, subId)
	}
	return out
}
