package peer

import (
	"context"
	"errors"
	"time"

	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/types"
)

const defaultPollInterval = 5 * time.Second

// subscription is an entry of the subscribed set. Its poller runs until
// cancel is called.
type subscription struct {
	owner  types.PeerAddress
	cancel context.CancelFunc
}

// startPoller adds topic to the subscribed set and starts its poller. An
// existing poller for the same owner keeps running.
func (p *Peer) startPoller(topic string, owner types.PeerAddress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.ShutDownSignal:
		return
	default:
	}
	if sub, ok := p.subscriptions[topic]; ok {
		if sub.owner == owner {
			return
		}
		sub.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{owner: owner, cancel: cancel}
	p.subscriptions[topic] = sub
	p.wg.Add(1)
	go p.poll(ctx, topic, sub)
}

// stopPoller removes topic from the subscribed set and returns the owner it
// was polled from.
func (p *Peer) stopPoller(topic string) (types.PeerAddress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subscriptions[topic]
	if !ok {
		return types.PeerAddress{}, false
	}
	sub.cancel()
	delete(p.subscriptions, topic)
	return sub.owner, true
}

// Subscriptions returns the subscribed topics with their owner
func (p *Peer) Subscriptions() map[string]types.PeerAddress {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := make(map[string]types.PeerAddress, len(p.subscriptions))
	for topic, sub := range p.subscriptions {
		subs[topic] = sub.owner
	}
	return subs
}

func (p *Peer) poll(ctx context.Context, topic string, sub *subscription) {
	defer p.wg.Done()
	interval := p.Config.PollInterval()
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	req := types.Request{
		Command:        protocol.PullCommand,
		Topic:          topic,
		SubscriberHost: p.Address.Host,
		SubscriberPort: p.Address.Port,
	}
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poller stopped", "topic", topic)
			return
		case <-ticker.C:
		}

		err := p.pullAll(ctx, sub.owner, req)
		switch {
		case err == nil, errors.Is(err, protocol.ErrEmptyBuffer):
		case errors.Is(err, protocol.ErrTopicNotFound):
			p.logger.Info("topic is gone from its owner, stopping poller", "topic", topic, "owner", sub.owner.String())
			p.dropSubscription(topic, sub)
			return
		case ctx.Err() != nil:
			return
		default:
			p.logger.Warn("pull failed", "topic", topic, "owner", sub.owner.String(), "error", err)
		}
	}
}

// pullAll pulls from owner until the response no longer reports more
// messages, delivering every page as it arrives.
func (p *Peer) pullAll(ctx context.Context, owner types.PeerAddress, req types.Request) error {
	for {
		resp, err := p.Client.Do(ctx, owner.String(), req)
		if err != nil {
			return err
		}
		for _, m := range resp.Messages {
			p.deliver(Message{Topic: req.Topic, Payload: m, Delivery: Pull})
		}
		if !resp.More || ctx.Err() != nil {
			return nil
		}
	}
}

// dropSubscription removes sub from the subscribed set unless it was
// already replaced.
func (p *Peer) dropSubscription(topic string, sub *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscriptions[topic] == sub {
		sub.cancel()
		delete(p.subscriptions, topic)
	}
}
