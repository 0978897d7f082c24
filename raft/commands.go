package raft

import (
	"encoding/json"
	"fmt"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/types"
)

// CommandType is a raft log command type
type CommandType int

// Commands types that can be applied to the raft log to change the state machine
const (
	RegisterPeer CommandType = iota
	UnregisterPeer
	AddTopic
	DeleteTopic
)

func (c CommandType) String() string {
	switch c {
	case RegisterPeer:
		return "RegisterPeer"
	case UnregisterPeer:
		return "UnregisterPeer"
	case AddTopic:
		return "AddTopic"
	case DeleteTopic:
		return "DeleteTopic"
	}
	return fmt.Sprintf("CommandType(%d)", int(c))
}

// Command represents a command type with its payload
type Command struct {
	Kind    CommandType
	Payload json.RawMessage
}

// PeerPayload is the payload of RegisterPeer and UnregisterPeer
type PeerPayload struct {
	Peer types.PeerAddress `json:"peer"`
}

// TopicPayload is the payload of AddTopic and DeleteTopic. Owner is unused
// by DeleteTopic.
type TopicPayload struct {
	Topic string            `json:"topic"`
	Owner types.PeerAddress `json:"owner"`
}

// Result is what Apply returns for every command. Err carries the domain
// error (NotFound, AlreadyExists, UnknownPeer) and is not a replication
// failure.
type Result struct {
	Removed []string
	Err     error
}

// ApplyCommand applies a decoded command to the state machine
func (fsm *FSM) ApplyCommand(cmd Command) Result {
	switch cmd.Kind {
	case RegisterPeer, UnregisterPeer:
		var p PeerPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return Result{Err: fmt.Errorf("could not parse peer: %s", err)}
		}
		if cmd.Kind == RegisterPeer {
			fsm.registerPeer(p.Peer)
			return Result{}
		}
		return fsm.unregisterPeer(p.Peer)
	case AddTopic, DeleteTopic:
		var t TopicPayload
		if err := json.Unmarshal(cmd.Payload, &t); err != nil {
			return Result{Err: fmt.Errorf("could not parse topic: %s", err)}
		}
		if cmd.Kind == AddTopic {
			return Result{Err: fsm.addTopic(t.Topic, t.Owner)}
		}
		return Result{Err: fsm.deleteTopic(t.Topic)}
	default:
		return Result{Err: fmt.Errorf("unknown command type: %#v", cmd.Kind)}
	}
}

// registerPeer creates the peer record. A known peer keeps its topics.
func (fsm *FSM) registerPeer(peer types.PeerAddress) {
	fsm.Lock()
	defer fsm.Unlock()
	if _, ok := fsm.peers[peer]; ok {
		log.Info("Peer %s registered again, keeping its topics", peer)
		return
	}
	fsm.peers[peer] = make(map[string]struct{})
	log.Info("Peer %s registered", peer)
}

func (fsm *FSM) unregisterPeer(peer types.PeerAddress) Result {
	fsm.Lock()
	defer fsm.Unlock()
	set, ok := fsm.peers[peer]
	if !ok {
		return Result{Err: protocol.ErrPeerNotFound}
	}
	removed := sortedKeys(set)
	txn := fsm.topics.Txn()
	for _, topic := range removed {
		txn.Delete([]byte(topic))
	}
	fsm.topics = txn.Commit()
	delete(fsm.peers, peer)
	log.Info("Peer %s unregistered, removed topics %v", peer, removed)
	return Result{Removed: removed}
}

func (fsm *FSM) addTopic(topic string, owner types.PeerAddress) error {
	fsm.Lock()
	defer fsm.Unlock()
	if current, ok := fsm.topics.Get([]byte(topic)); ok {
		log.Debug("Topic %s is already hosted by %s", topic, current.(types.PeerAddress))
		return protocol.ErrTopicAlreadyExists
	}
	set, ok := fsm.peers[owner]
	if !ok {
		log.Debug("Cannot add topic %s, peer %s is not registered", topic, owner)
		return protocol.ErrUnknownPeer
	}
	fsm.topics, _, _ = fsm.topics.Insert([]byte(topic), owner)
	set[topic] = struct{}{}
	log.Info("Topic %s added for %s", topic, owner)
	return nil
}

func (fsm *FSM) deleteTopic(topic string) error {
	fsm.Lock()
	defer fsm.Unlock()
	tree, v, ok := fsm.topics.Delete([]byte(topic))
	if !ok {
		return protocol.ErrTopicNotFound
	}
	fsm.topics = tree
	owner := v.(types.PeerAddress)
	set, ok := fsm.peers[owner]
	if !ok {
		log.Warn("Topic %s was mapped to unknown peer %s", topic, owner)
		return nil
	}
	if _, ok := set[topic]; !ok {
		log.Warn("Topic %s missing from the topic set of %s", topic, owner)
	}
	delete(set, topic)
	log.Info("Topic %s deleted", topic)
	return nil
}

// EncodeLogEntry converts a raft log entry into bytes
func EncodeLogEntry(entryType CommandType, entry any) (res []byte, err error) {
	cmd := Command{Kind: entryType}
	cmd.Payload, err = json.Marshal(entry)
	if err != nil {
		return
	}
	res, err = json.Marshal(cmd)
	return
}
