package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/CefBoud/peerbus/metrics"
	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/types"
	"github.com/hashicorp/go-multierror"
)

// forwardToSubscribers pushes message to each subscriber over its own
// connection. Pushes run concurrently and are not retried. The returned
// error lists every subscriber that could not be reached.
func (p *Peer) forwardToSubscribers(ctx context.Context, topic, message string, subscribers []types.PeerAddress) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	req := types.Request{Command: protocol.ReceiveMessageCommand, Topic: topic, Message: message}
	for _, sub := range subscribers {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Client.Do(ctx, sub.String(), req)
			if err != nil {
				metrics.Count([]string{"peer", "push", "failed"}, metrics.Label("topic", topic))
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("push to %s: %w", sub, err))
				mu.Unlock()
				return
			}
			metrics.Count([]string{"peer", "push"}, metrics.Label("topic", topic))
			p.logger.Debug("pushed message", "topic", topic, "subscriber", sub.String())
		}()
	}
	wg.Wait()
	return result.ErrorOrNil()
}
