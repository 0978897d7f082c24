package directory

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/protocol"
	peerraft "github.com/CefBoud/peerbus/raft"
	"github.com/CefBoud/peerbus/serde"
	"github.com/CefBoud/peerbus/types"
	"github.com/hashicorp/go-hclog"
	hraft "github.com/hashicorp/raft"
	"github.com/hashicorp/serf/serf"
)

const (
	// serfEventChSize is the size of the buffered channel to get Serf
	// events. If this is exhausted we will block Serf and Memberlist.
	serfEventChSize = 2048

	raftApplyTimeout = 10 * time.Second
)

// Directory maps topics to the peer hosting them and keeps the peer
// registry. Without raft every command is applied to the FSM in process;
// with raft it goes through the replicated log first.
type Directory struct {
	Config         types.DirectoryConfig
	ShutDownSignal chan struct{}
	FSM            *peerraft.FSM
	Raft           *hraft.Raft // nil unless Config.Raft is set
	Serf           *serf.Serf  // nil unless Config.SerfAddress is set

	SerfEventCh chan serf.Event
	// Client reaches peers that rejoined serf after losing their lease
	Client *protocol.Client

	raftStore io.Closer
	server    *protocol.Server
	logger    hclog.Logger
}

// New creates a directory with an empty registry
func New(config types.DirectoryConfig, enc serde.Encoder) *Directory {
	d := &Directory{
		Config:         config,
		ShutDownSignal: make(chan struct{}),
		FSM:            peerraft.NewFSM(),
		SerfEventCh:    make(chan serf.Event, serfEventChSize),
		Client:         protocol.NewClient(protocol.DefaultCallTimeout, enc),
		logger:         log.Named("directory"),
	}
	d.server = protocol.NewServer("directory", d, enc)
	return d
}

// Startup sets up the optional raft and serf layers and binds the listener.
// Call Serve afterwards to accept connections.
func (d *Directory) Startup() error {
	if d.Config.Raft {
		if err := d.SetupRaft(); err != nil {
			return fmt.Errorf("raft setup failed: %w", err)
		}
	}
	if d.Config.SerfAddress != "" {
		if err := d.SetupSerf(); err != nil {
			return fmt.Errorf("serf setup failed: %w", err)
		}
		go d.handleSerfEvent()
	}
	address := net.JoinHostPort(d.Config.Host, strconv.Itoa(d.Config.Port))
	return d.server.Listen(address)
}

// Serve accepts connections until Shutdown
func (d *Directory) Serve() error {
	return d.server.Serve()
}

// Addr returns the address the directory listens on
func (d *Directory) Addr() net.Addr {
	return d.server.Addr()
}

// Shutdown stops accepting connections and leaves the serf and raft clusters
func (d *Directory) Shutdown() {
	select {
	case <-d.ShutDownSignal:
		return
	default:
	}
	close(d.ShutDownSignal)
	log.Info("Directory shutting down...")
	if err := d.server.Close(); err != nil {
		log.Warn("error closing listener: %v", err)
	}

	if d.Serf != nil {
		if err := d.Serf.Leave(); err != nil {
			log.Error("Serf leave failed: %s", err)
		}
		d.Serf.Shutdown()
	}

	if d.Raft != nil {
		future := d.Raft.Shutdown()
		if err := future.Error(); err != nil {
			log.Warn("error shutting down raft:  %v", err)
		}
	}
	if d.raftStore != nil {
		if err := d.raftStore.Close(); err != nil {
			log.Warn("error closing raft store: %v", err)
		}
	}
}

// apply runs a registry command through raft when it is enabled, or
// directly against the FSM otherwise.
func (d *Directory) apply(kind peerraft.CommandType, payload any) (peerraft.Result, error) {
	data, err := peerraft.EncodeLogEntry(kind, payload)
	if err != nil {
		return peerraft.Result{}, err
	}

	if d.Raft == nil {
		res := d.FSM.Apply(&hraft.Log{Type: hraft.LogCommand, Data: data}).(peerraft.Result)
		return res, res.Err
	}

	if d.Raft.State() != hraft.Leader {
		leader, _ := d.Raft.LeaderWithID()
		return peerraft.Result{}, fmt.Errorf("%w: not the raft leader, leader is %q", protocol.ErrInternal, leader)
	}
	future := d.Raft.Apply(data, raftApplyTimeout)
	if err := future.Error(); err != nil {
		return peerraft.Result{}, fmt.Errorf("%w: %v", protocol.ErrInternal, err)
	}
	res, ok := future.Response().(peerraft.Result)
	if !ok {
		return peerraft.Result{}, fmt.Errorf("%w: unexpected raft response %T", protocol.ErrInternal, future.Response())
	}
	d.logger.Debug("applied raft entry", "kind", kind, "index", future.Index())
	return res, res.Err
}
