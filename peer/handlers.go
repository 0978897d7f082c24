package peer

import (
	"context"
	"errors"
	"fmt"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/metrics"
	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/state"
	"github.com/CefBoud/peerbus/types"
)

// Dispatch returns the handler of a peer command
func (p *Peer) Dispatch(command string) (protocol.CommandHandler, bool) {
	switch command {
	case protocol.CreateTopicCommand:
		return protocol.CommandHandler{Name: "CreateTopic", Handler: p.handleCreateTopic}, true
	case protocol.DeleteTopicCommand:
		return protocol.CommandHandler{Name: "DeleteTopic", Handler: p.handleDeleteTopic}, true
	case protocol.PublishCommand:
		return protocol.CommandHandler{Name: "Publish", Handler: p.handlePublish}, true
	case protocol.SubscribeCommand:
		return protocol.CommandHandler{Name: "Subscribe", Handler: p.handleSubscribe}, true
	case protocol.UnsubscribeCommand:
		return protocol.CommandHandler{Name: "Unsubscribe", Handler: p.handleUnsubscribe}, true
	case protocol.SubscribeToPeerCommand:
		return protocol.CommandHandler{Name: "SubscribeToPeer", Handler: p.handleSubscription}, true
	case protocol.UnsubscribeFromPeerCommand:
		return protocol.CommandHandler{Name: "UnsubscribeFromPeer", Handler: p.handleUnsubscription}, true
	case protocol.PullCommand:
		return protocol.CommandHandler{Name: "Pull", Handler: p.handlePull}, true
	case protocol.ReceiveMessageCommand:
		return protocol.CommandHandler{Name: "ReceiveMessage", Handler: p.handleReceiveMessage}, true
	case protocol.AnnounceCommand:
		return protocol.CommandHandler{Name: "Announce", Handler: p.handleAnnounce}, true
	}
	return protocol.CommandHandler{}, false
}

// handleCreateTopic hosts the topic locally first, then records it in the
// directory. A directory rejection undoes the local creation.
func (p *Peer) handleCreateTopic(req types.Request) types.Response {
	if req.Topic == "" {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	if _, ok := p.Topics.Create(req.Topic); !ok {
		return protocol.ErrorResponse(protocol.ErrTopicAlreadyExists)
	}
	if err := p.addTopicToDirectory(context.Background(), req.Topic); err != nil {
		p.Topics.Delete(req.Topic)
		p.logger.Warn("directory rejected topic, rolled back", "topic", req.Topic, "error", err)
		return protocol.ErrorResponse(err)
	}
	p.logger.Info("created topic", "topic", req.Topic)
	return types.Success(fmt.Sprintf("Topic '%s' created", req.Topic))
}

func (p *Peer) handleDeleteTopic(req types.Request) types.Response {
	if !p.Topics.Delete(req.Topic) {
		return protocol.ErrorResponse(protocol.ErrTopicNotFound)
	}
	p.logger.Info("deleted topic", "topic", req.Topic)
	err := p.deleteTopicFromDirectory(context.Background(), req.Topic)
	switch {
	case errors.Is(err, protocol.ErrTopicNotFound):
		p.logger.Warn("topic was not in the directory", "topic", req.Topic)
	case err != nil:
		return protocol.ErrorResponse(fmt.Errorf("topic deleted locally, directory update failed: %w", err))
	}
	return types.Success(fmt.Sprintf("Topic '%s' deleted", req.Topic))
}

// handlePublish appends to a hosted topic and pushes to its subscribers, or
// forwards the publish to the owner. A forwarded publish is never forwarded
// again.
func (p *Peer) handlePublish(req types.Request) types.Response {
	if req.Topic == "" {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	if state.MessageSize(req.Message) > state.MaxPullBytes {
		return protocol.ErrorResponse(protocol.ErrMessageTooLarge)
	}
	if topic, ok := p.Topics.Get(req.Topic); ok {
		subscribers := topic.Publish(req.Message)
		metrics.Count([]string{"peer", "publish"}, metrics.Label("topic", req.Topic))
		reportBuffered(topic)
		p.logger.Info("published message", "topic", req.Topic, "subscribers", len(subscribers))
		if err := p.forwardToSubscribers(context.Background(), req.Topic, req.Message, subscribers); err != nil {
			p.logger.Warn("push incomplete", "topic", req.Topic, "error", err)
		}
		return types.Success(fmt.Sprintf("Message published on topic '%s'", req.Topic))
	}

	if req.Forwarded {
		return protocol.ErrorResponse(protocol.ErrTopicNotFound)
	}
	owner, err := p.queryOwner(context.Background(), req.Topic)
	if err != nil {
		return protocol.ErrorResponse(err)
	}
	if owner == p.Address {
		log.Warn("Directory maps topic '%s' to this peer but it is not hosted here", req.Topic)
		return protocol.ErrorResponse(protocol.ErrLocalMismatch)
	}
	return p.forwardPublish(context.Background(), owner, req.Topic, req.Message)
}

// forwardPublish relays a publish to the owner and returns its response as is
func (p *Peer) forwardPublish(ctx context.Context, owner types.PeerAddress, topic, message string) types.Response {
	resp, err := p.Client.Call(ctx, owner.String(), types.Request{
		Command:   protocol.PublishCommand,
		Topic:     topic,
		Message:   message,
		Forwarded: true,
	})
	if err != nil {
		p.logger.Error("failed to forward publish", "topic", topic, "owner", owner.String(), "error", err)
		return protocol.ErrorResponse(err)
	}
	metrics.Count([]string{"peer", "publish", "forwarded"})
	return resp
}

// handleSubscribe registers this peer as a subscriber at the topic's owner
// and starts polling it.
func (p *Peer) handleSubscribe(req types.Request) types.Response {
	if req.Topic == "" {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	ctx := context.Background()
	owner, err := p.queryOwner(ctx, req.Topic)
	if err != nil {
		if !errors.Is(err, protocol.ErrTopicNotFound) {
			err = fmt.Errorf("%w: directory lookup failed: %v", protocol.ErrTopicNotFound, err)
		}
		return protocol.ErrorResponse(err)
	}
	resp, err := p.Client.Call(ctx, owner.String(), types.Request{
		Command:        protocol.SubscribeToPeerCommand,
		Topic:          req.Topic,
		SubscriberHost: p.Address.Host,
		SubscriberPort: p.Address.Port,
	})
	if err != nil {
		return protocol.ErrorResponse(err)
	}
	if resp.OK() {
		p.startPoller(req.Topic, owner)
		p.logger.Info("subscribed", "topic", req.Topic, "owner", owner.String())
	}
	return resp
}

func (p *Peer) handleUnsubscribe(req types.Request) types.Response {
	owner, ok := p.stopPoller(req.Topic)
	if !ok {
		return protocol.ErrorResponse(protocol.ErrNotSubscribed)
	}
	resp, err := p.Client.Call(context.Background(), owner.String(), types.Request{
		Command:        protocol.UnsubscribeFromPeerCommand,
		Topic:          req.Topic,
		SubscriberHost: p.Address.Host,
		SubscriberPort: p.Address.Port,
	})
	if err != nil {
		return protocol.ErrorResponse(err)
	}
	p.logger.Info("unsubscribed", "topic", req.Topic, "owner", owner.String())
	return resp
}

// handleSubscription records a subscriber of a hosted topic. Subscribing
// again resets the subscriber's pulled flag.
func (p *Peer) handleSubscription(req types.Request) types.Response {
	sub, ok := req.Subscriber()
	if !ok || req.Topic == "" {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	topic, ok := p.Topics.Get(req.Topic)
	if !ok {
		return protocol.ErrorResponse(protocol.ErrTopicNotFound)
	}
	if req.SubscriberHost == "" {
		if known, ok := topic.Lookup(sub, true); ok {
			sub = known
		}
	}
	if topic.Subscribe(sub) {
		p.logger.Info("subscriber subscribed again, pulled flag reset", "topic", req.Topic, "subscriber", sub.String())
	} else {
		p.logger.Info("new subscriber", "topic", req.Topic, "subscriber", sub.String())
	}
	return types.Success(fmt.Sprintf("Subscribed to topic '%s'", req.Topic))
}

func (p *Peer) handleUnsubscription(req types.Request) types.Response {
	sub, ok := req.Subscriber()
	if !ok || req.Topic == "" {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	topic, ok := p.Topics.Get(req.Topic)
	if !ok {
		return protocol.ErrorResponse(protocol.ErrTopicNotFound)
	}
	if req.SubscriberHost == "" {
		if known, ok := topic.Lookup(sub, true); ok {
			sub = known
		}
	}
	found, cleared := topic.Unsubscribe(sub)
	if !found {
		return protocol.ErrorResponse(protocol.ErrNotSubscribed)
	}
	if cleared {
		p.logger.Info("remaining subscribers had pulled, buffer cleared", "topic", req.Topic)
	}
	return types.Success(fmt.Sprintf("Unsubscribed from topic '%s'", req.Topic))
}

// handlePull returns the buffered messages of a hosted topic, one page at a
// time when they do not fit in a response. Only a requester that identifies
// itself as a subscriber counts toward the clear; without a host it is
// matched on port.
func (p *Peer) handlePull(req types.Request) types.Response {
	topic, ok := p.Topics.Get(req.Topic)
	if !ok {
		return protocol.ErrorResponse(protocol.ErrTopicNotFound)
	}
	addr, identified := req.Subscriber()
	page, err := topic.PullPage(state.Requester{
		Addr:       addr,
		Identified: identified,
		PortOnly:   req.SubscriberHost == "",
	})
	if err != nil {
		return protocol.ErrorResponse(err)
	}
	metrics.Count([]string{"peer", "pull"}, metrics.Label("topic", req.Topic))
	if page.Cleared {
		p.logger.Info("all subscribers pulled, buffer cleared", "topic", req.Topic)
		reportBuffered(topic)
	}
	return types.Response{Status: types.StatusSuccess, Messages: page.Messages, More: page.More}
}

func reportBuffered(topic *state.HostedTopic) {
	metrics.Gauge([]string{"peer", "topic", "buffered"}, float32(topic.Buffered()), metrics.Label("topic", topic.Name))
}

// handleReceiveMessage is the end of a push. The message is handed to the
// local consumer and not kept for pulls.
func (p *Peer) handleReceiveMessage(req types.Request) types.Response {
	p.deliver(Message{Topic: req.Topic, Payload: req.Message, Delivery: Push})
	return types.Success(fmt.Sprintf("Message '%s' received on topic '%s'", req.Message, req.Topic))
}

// handleAnnounce registers the peer and every hosted topic with the
// directory again. The directory asks for it when a peer whose lease was
// released rejoins the cluster.
func (p *Peer) handleAnnounce(req types.Request) types.Response {
	ctx := context.Background()
	if err := p.registerWithDirectory(ctx); err != nil {
		return protocol.ErrorResponse(err)
	}
	announced := 0
	for _, name := range p.Topics.Names() {
		err := p.addTopicToDirectory(ctx, name)
		if errors.Is(err, protocol.ErrTopicAlreadyExists) {
			if owner, qerr := p.queryOwner(ctx, name); qerr == nil && owner != p.Address {
				p.logger.Warn("topic is now owned by another peer", "topic", name, "owner", owner.String())
				continue
			}
			err = nil
		}
		if err != nil {
			p.logger.Error("failed to announce topic", "topic", name, "error", err)
			continue
		}
		announced++
	}
	p.logger.Info("announced to directory", "topics", announced)
	return types.Success(fmt.Sprintf("Peer %s announced %d topics", p.Address, announced))
}
