package hub

import (
	"fleetwarden/internal/model"
	"fleetwarden/internal/registry"
)

// OnAccountChange is registered as a registry subscriber.
func (h *Hub) OnAccountChange(ch registry.Change) {
	h.Publish(TopicAccounts, "account."+string(ch.Kind), ch.Account)
}

// OnSession is registered as a dispatcher observer.
func (h *Hub) OnSession(s model.BroadcastSession) {
	h.Publish(BroadcastTopic(s.ID), "broadcast."+string(s.Status), s)
}
