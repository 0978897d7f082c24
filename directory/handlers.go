package directory

import (
	"fmt"

	"github.com/CefBoud/peerbus/protocol"
	peerraft "github.com/CefBoud/peerbus/raft"
	"github.com/CefBoud/peerbus/types"
)

// Dispatch returns the handler of a directory command
func (d *Directory) Dispatch(command string) (protocol.CommandHandler, bool) {
	switch command {
	case protocol.RegisterPeerCommand:
		return protocol.CommandHandler{Name: "RegisterPeer", Handler: d.handleRegisterPeer}, true
	case protocol.UnregisterPeerCommand:
		return protocol.CommandHandler{Name: "UnregisterPeer", Handler: d.handleUnregisterPeer}, true
	case protocol.AddTopicCommand:
		return protocol.CommandHandler{Name: "AddTopic", Handler: d.handleAddTopic}, true
	case protocol.DeleteTopicCommand:
		return protocol.CommandHandler{Name: "DeleteTopic", Handler: d.handleDeleteTopic}, true
	case protocol.QueryTopicCommand:
		return protocol.CommandHandler{Name: "QueryTopic", Handler: d.handleQueryTopic}, true
	case protocol.ListTopicsCommand:
		return protocol.CommandHandler{Name: "ListTopics", Handler: d.handleListTopics}, true
	}
	return protocol.CommandHandler{}, false
}

// peerOf reads the peer address of a register/unregister/add_topic request.
// A missing host defaults to the host of the connection.
func peerOf(req types.Request) (types.PeerAddress, bool) {
	if req.Port <= 0 {
		return types.PeerAddress{}, false
	}
	host := req.Host
	if host == "" {
		host = types.HostOf(req.ConnectionAddress)
	}
	return types.PeerAddress{Host: host, Port: req.Port}, true
}

func (d *Directory) handleRegisterPeer(req types.Request) types.Response {
	peer, ok := peerOf(req)
	if !ok {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	if _, err := d.apply(peerraft.RegisterPeer, peerraft.PeerPayload{Peer: peer}); err != nil {
		return protocol.ErrorResponse(err)
	}
	return types.Success(fmt.Sprintf("Peer %s registered", peer))
}

func (d *Directory) handleUnregisterPeer(req types.Request) types.Response {
	peer, ok := peerOf(req)
	if !ok {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	res, err := d.apply(peerraft.UnregisterPeer, peerraft.PeerPayload{Peer: peer})
	if err != nil {
		return protocol.ErrorResponse(err)
	}
	resp := types.Success(fmt.Sprintf("Peer %s unregistered and topics removed", peer))
	resp.Removed = res.Removed
	return resp
}

func (d *Directory) handleAddTopic(req types.Request) types.Response {
	owner, ok := peerOf(req)
	if !ok || req.Topic == "" {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	if _, err := d.apply(peerraft.AddTopic, peerraft.TopicPayload{Topic: req.Topic, Owner: owner}); err != nil {
		d.logger.Info("add_topic rejected", "topic", req.Topic, "peer", owner, "error", err)
		return protocol.ErrorResponse(err)
	}
	return types.Success(fmt.Sprintf("Topic '%s' added", req.Topic))
}

func (d *Directory) handleDeleteTopic(req types.Request) types.Response {
	if req.Topic == "" {
		return protocol.ErrorResponse(protocol.ErrInvalidFormat)
	}
	if _, err := d.apply(peerraft.DeleteTopic, peerraft.TopicPayload{Topic: req.Topic}); err != nil {
		return protocol.ErrorResponse(err)
	}
	return types.Success(fmt.Sprintf("Topic '%s' deleted", req.Topic))
}

func (d *Directory) handleQueryTopic(req types.Request) types.Response {
	owner, ok := d.FSM.Owner(req.Topic)
	if !ok {
		d.logger.Debug("topic not found", "topic", req.Topic)
		return protocol.ErrorResponse(protocol.ErrTopicNotFound)
	}
	return types.Response{Status: types.StatusSuccess, Host: owner.Host, Port: owner.Port}
}

func (d *Directory) handleListTopics(req types.Request) types.Response {
	resp := types.Success("")
	resp.Topics = d.FSM.ListTopics(req.Prefix)
	return resp
}
