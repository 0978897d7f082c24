package peer

import (
	"context"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/types"
)

// Calls made by the peer to the directory. Each one is a single exchange
// over a fresh connection.

func (p *Peer) directory(ctx context.Context, req types.Request) (types.Response, error) {
	return p.Client.Do(ctx, p.Config.DirectoryAddress().String(), req)
}

func (p *Peer) registerWithDirectory(ctx context.Context) error {
	resp, err := p.directory(ctx, types.Request{Command: protocol.RegisterPeerCommand, Host: p.Address.Host, Port: p.Address.Port})
	if err != nil {
		return err
	}
	log.Info("Registered with directory: %s", resp.Message)
	return nil
}

func (p *Peer) unregisterFromDirectory(ctx context.Context) ([]string, error) {
	resp, err := p.directory(ctx, types.Request{Command: protocol.UnregisterPeerCommand, Host: p.Address.Host, Port: p.Address.Port})
	return resp.Removed, err
}

func (p *Peer) addTopicToDirectory(ctx context.Context, topic string) error {
	_, err := p.directory(ctx, types.Request{Command: protocol.AddTopicCommand, Topic: topic, Host: p.Address.Host, Port: p.Address.Port})
	return err
}

func (p *Peer) deleteTopicFromDirectory(ctx context.Context, topic string) error {
	_, err := p.directory(ctx, types.Request{Command: protocol.DeleteTopicCommand, Topic: topic})
	return err
}

// queryOwner asks the directory which peer hosts topic
func (p *Peer) queryOwner(ctx context.Context, topic string) (types.PeerAddress, error) {
	resp, err := p.directory(ctx, types.Request{Command: protocol.QueryTopicCommand, Topic: topic})
	if err != nil {
		return types.PeerAddress{}, err
	}
	return types.PeerAddress{Host: resp.Host, Port: resp.Port}, nil
}
