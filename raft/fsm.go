package raft

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/types"
	"github.com/hashicorp/go-msgpack/v2/codec"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/hashicorp/raft"
)

// Apply applies a `raft.Log` to the FSM and returns a Result
func (fsm *FSM) Apply(log *raft.Log) any {
	switch log.Type {
	case raft.LogCommand:
		var cmd Command
		if err := json.Unmarshal(log.Data, &cmd); err != nil {
			return Result{Err: fmt.Errorf("could not parse payload: %s", err)}
		}
		logging.Debug("Applying %v at index %d", cmd.Kind, log.Index)
		return fsm.ApplyCommand(cmd)
	default:
		return Result{Err: fmt.Errorf("unknown raft log type: %#v", log.Type)}
	}
}

type peerRecord struct {
	Host   string
	Port   int
	Topics []string
}

type registrySnapshot struct {
	Peers []peerRecord
}

func (s registrySnapshot) Persist(sink raft.SnapshotSink) error {
	err := codec.NewEncoder(sink, &codec.MsgpackHandle{}).Encode(s)
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("could not encode snapshot: %w", err)
	}
	return sink.Close()
}

func (s registrySnapshot) Release() {}

// Snapshot captures the peer records. The topic index is rebuilt from them
// on restore.
func (fsm *FSM) Snapshot() (raft.FSMSnapshot, error) {
	fsm.RLock()
	defer fsm.RUnlock()
	snap := registrySnapshot{Peers: make([]peerRecord, 0, len(fsm.peers))}
	for peer, set := range fsm.peers {
		snap.Peers = append(snap.Peers, peerRecord{Host: peer.Host, Port: peer.Port, Topics: sortedKeys(set)})
	}
	return snap, nil
}

// Restore is used to restore an FSM from a snapshot. The current state is
// discarded.
func (fsm *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap registrySnapshot
	if err := codec.NewDecoder(rc, &codec.MsgpackHandle{}).Decode(&snap); err != nil {
		return fmt.Errorf("could not decode snapshot: %w", err)
	}

	peers := make(map[types.PeerAddress]map[string]struct{}, len(snap.Peers))
	txn := iradix.New().Txn()
	for _, record := range snap.Peers {
		addr := types.PeerAddress{Host: record.Host, Port: record.Port}
		set := make(map[string]struct{}, len(record.Topics))
		for _, topic := range record.Topics {
			set[topic] = struct{}{}
			txn.Insert([]byte(topic), addr)
		}
		peers[addr] = set
	}

	fsm.Lock()
	fsm.peers = peers
	fsm.topics = txn.Commit()
	fsm.Unlock()
	logging.Info("Registry restored with %d peers", len(peers))
	return nil
}
