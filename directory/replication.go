package directory

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/utils"
	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// SetupRaft starts a single-node raft backed by bolt under the data dir, so
// the registry survives a directory restart.
func (d *Directory) SetupRaft() error {
	if d.Config.RaftID == "" {
		d.Config.RaftID = fmt.Sprintf("directory-%d", d.Config.Port)
	}
	if d.Config.RaftAddress == "" {
		return fmt.Errorf("raft is enabled but no raft_address is configured")
	}
	dir := filepath.Join(d.Config.DataDir, "raft-"+d.Config.RaftID)
	if err := utils.EnsurePath(dir, true); err != nil {
		return fmt.Errorf("could not create data directory: %s", err)
	}

	store, err := raftboltdb.NewBoltStore(filepath.Join(dir, "bolt"))
	if err != nil {
		return fmt.Errorf("could not create bolt store: %s", err)
	}
	d.raftStore = store

	logger := log.Named("raft")
	snapshots, err := hraft.NewFileSnapshotStoreWithLogger(filepath.Join(dir, "snapshot"), 2, logger)
	if err != nil {
		return fmt.Errorf("could not create snapshot store: %s", err)
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", d.Config.RaftAddress)
	if err != nil {
		return fmt.Errorf("could not resolve address: %s", err)
	}
	transport, err := hraft.NewTCPTransportWithLogger(d.Config.RaftAddress, tcpAddr, 10, time.Second*10, logger)
	if err != nil {
		return fmt.Errorf("could not create tcp transport: %s", err)
	}

	return d.startRaft(store, store, snapshots, transport)
}

// startRaft creates the raft instance over the given stores and bootstraps
// a one-server cluster when there is no prior state.
func (d *Directory) startRaft(logs hraft.LogStore, stable hraft.StableStore, snapshots hraft.SnapshotStore, transport hraft.Transport) error {
	raftCfg := hraft.DefaultConfig()
	raftCfg.Logger = log.Named("raft")
	if d.Config.RaftID == "" {
		d.Config.RaftID = fmt.Sprintf("directory-%d", d.Config.Port)
	}
	nodeID := d.Config.RaftID
	raftCfg.LocalID = hraft.ServerID(nodeID)

	var err error
	d.Raft, err = hraft.NewRaft(raftCfg, d.FSM, logs, stable, snapshots, transport)
	if err != nil {
		return fmt.Errorf("could not create raft instance: %s", err)
	}

	hasState, err := hraft.HasExistingState(logs, stable, snapshots)
	if err != nil {
		return err
	}
	if !hasState {
		log.Info("bootstrapping raft with nodeID %v ....", nodeID)
		future := d.Raft.BootstrapCluster(hraft.Configuration{
			Servers: []hraft.Server{
				{
					ID:      hraft.ServerID(nodeID),
					Address: transport.LocalAddr(),
				},
			},
		})
		if err := future.Error(); err != nil {
			log.Error("bootstrap cluster error: %s", err)
		}
	}
	return nil
}

// IsLeader reports whether this directory can apply registry commands.
// A directory without raft always can.
func (d *Directory) IsLeader() bool {
	return d.Raft == nil || d.Raft.State() == hraft.Leader
}
