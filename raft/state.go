package raft

import (
	"sort"
	"sync"

	"github.com/CefBoud/peerbus/types"
	iradix "github.com/hashicorp/go-immutable-radix"
)

// FSM is the finite-state-machine of the directory registry. It holds the
// peer records and the topic → owner index, and is only mutated through
// Apply so that a local and a replicated directory behave the same.
//
// Every topic in the index appears in exactly one peer's topic set, and every
// topic in a peer's set is mapped to that peer in the index.
type FSM struct {
	peers  map[types.PeerAddress]map[string]struct{}
	topics *iradix.Tree // topic name → types.PeerAddress
	sync.RWMutex
}

// NewFSM returns an empty registry
func NewFSM() *FSM {
	return &FSM{
		peers:  make(map[types.PeerAddress]map[string]struct{}),
		topics: iradix.New(),
	}
}

// Owner returns the peer hosting topic
func (fsm *FSM) Owner(topic string) (types.PeerAddress, bool) {
	fsm.RLock()
	defer fsm.RUnlock()
	v, ok := fsm.topics.Get([]byte(topic))
	if !ok {
		return types.PeerAddress{}, false
	}
	return v.(types.PeerAddress), true
}

// PeerExists checks if a peer is registered
func (fsm *FSM) PeerExists(peer types.PeerAddress) bool {
	fsm.RLock()
	defer fsm.RUnlock()
	_, ok := fsm.peers[peer]
	return ok
}

// PeerTopics returns the sorted topics hosted by peer
func (fsm *FSM) PeerTopics(peer types.PeerAddress) ([]string, bool) {
	fsm.RLock()
	defer fsm.RUnlock()
	set, ok := fsm.peers[peer]
	if !ok {
		return nil, false
	}
	return sortedKeys(set), true
}

// Peers returns every registered peer, sorted by address
func (fsm *FSM) Peers() []types.PeerAddress {
	fsm.RLock()
	defer fsm.RUnlock()
	peers := make([]types.PeerAddress, 0, len(fsm.peers))
	for p := range fsm.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Host != peers[j].Host {
			return peers[i].Host < peers[j].Host
		}
		return peers[i].Port < peers[j].Port
	})
	return peers
}

// ListTopics returns the mappings whose topic name starts with prefix, in
// lexical order. An empty prefix lists everything.
func (fsm *FSM) ListTopics(prefix string) []types.TopicEntry {
	fsm.RLock()
	root := fsm.topics.Root()
	fsm.RUnlock()

	entries := []types.TopicEntry{}
	root.WalkPrefix([]byte(prefix), func(k []byte, v interface{}) bool {
		owner := v.(types.PeerAddress)
		entries = append(entries, types.TopicEntry{Topic: string(k), Host: owner.Host, Port: owner.Port})
		return false
	})
	return entries
}

// TopicCount returns the number of mapped topics
func (fsm *FSM) TopicCount() int {
	fsm.RLock()
	defer fsm.RUnlock()
	return fsm.topics.Len()
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
