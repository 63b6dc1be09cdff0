package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddTopicsRequiresRegisteredSubscriber(t *testing.T) {
	r := NewSubscriptionRegistry()
	added := r.AddTopics("sub1", []string{"orders"})
	assert.Nil(t, added, "unregistered subscriber should not gain topics")
}

func TestAddAndQueryTopics(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.AddSubscriber("sub1")

	added := r.AddTopics("sub1", []string{" Orders ", "FILLS"})
	assert.ElementsMatch(t, []string{"orders", "fills"}, added)

	all := r.AllTopics("sub1")
	assert.ElementsMatch(t, []string{"orders", "fills"}, all)

	subs := r.SubscribersOf("orders")
	assert.Equal(t, []string{"sub1"}, subs)
}

func TestAddTopicsIgnoresDuplicates(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.AddSubscriber("sub1")
	r.AddTopics("sub1", []string{"orders"})
	added := r.AddTopics("sub1", []string{"orders", "fills"})
	assert.Equal(t, []string{"fills"}, added)
}

func TestRemoveTopics(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.AddSubscriber("sub1")
	r.AddTopics("sub1", []string{"orders", "fills"})

	removed := r.RemoveTopics("sub1", []string{"orders", "bogus"})
	assert.Equal(t, []string{"orders"}, removed)
	assert.NotContains(t, r.AllTopics("sub1"), "orders")
	assert.Empty(t, r.SubscribersOf("orders"))
}

func TestRemoveSubscriberUnwindsAllTopics(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.AddSubscriber("sub1")
	r.AddSubscriber("sub2")
	r.AddTopics("sub1", []string{"orders"})
	r.AddTopics("sub2", []string{"orders"})

	r.RemoveSubscriber("sub1")

	assert.False(t, r.HasSubscriber("sub1"))
	assert.Equal(t, []string{"sub2"}, r.SubscribersOf("orders"))
}

func TestRemoveSubscriberUnknownIsNoop(t *testing.T) {
	r := NewSubscriptionRegistry()
	r.RemoveSubscriber("ghost")
}

func TestSubscribersOfUnknownTopic(t *testing.T) {
	r := NewSubscriptionRegistry()
	assert.Empty(t, r.SubscribersOf("nope"))
}
