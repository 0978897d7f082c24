package directory

import (
	"context"
	"errors"
	"fmt"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/CefBoud/peerbus/protocol"
	peerraft "github.com/CefBoud/peerbus/raft"
	"github.com/CefBoud/peerbus/types"
	"github.com/CefBoud/peerbus/utils"
	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"github.com/hashicorp/serf/serf"
)

// Serf tags shared with the peers
const (
	TagRole     = "role"
	TagPeerAddr = "peer_addr"

	RolePeer      = "peer"
	RoleDirectory = "directory"
)

// SetupSerf starts the serf agent peers join to hold their registration
// lease. A peer whose member fails or leaves is unregistered.
func (d *Directory) SetupSerf() error {
	bindIP, bindPort, err := utils.SplitHostPort(d.Config.SerfAddress)
	if err != nil {
		return err
	}
	log.Debug("SetupSerf: bindIP=%v bindPort=%v", bindIP, bindPort)

	logger := log.Named("serf").StandardLogger(nil)
	conf := serf.DefaultConfig()
	conf.Init()
	conf.NodeName = fmt.Sprintf("directory-%s", uuid.NewString())
	conf.MemberlistConfig = memberlist.DefaultLANConfig()
	conf.MemberlistConfig.BindAddr = bindIP
	conf.MemberlistConfig.BindPort = bindPort
	conf.MemberlistConfig.Logger = logger
	conf.Logger = logger
	conf.Tags[TagRole] = RoleDirectory
	conf.Tags[TagPeerAddr] = types.PeerAddress{Host: d.Config.Host, Port: d.Config.Port}.String()
	conf.EventCh = d.SerfEventCh

	d.Serf, err = serf.Create(conf)
	return err
}

func (d *Directory) handleSerfEvent() {
	for {
		select {
		case e := <-d.SerfEventCh:
			d.handleEvent(e)
		case <-d.ShutDownSignal:
			return
		}
	}
}

func (d *Directory) handleEvent(e serf.Event) {
	log.Debug("serf EventType: %v", e.EventType())
	switch e.EventType() {
	case serf.EventMemberJoin:
		d.handleSerfMemberJoin(e.(serf.MemberEvent))
	case serf.EventMemberFailed, serf.EventMemberLeave, serf.EventMemberReap:
		d.handleSerfMemberLeft(e.(serf.MemberEvent))
	}
}

// peerOfMember returns the peer address a serf member advertises
func peerOfMember(m serf.Member) (types.PeerAddress, bool) {
	if m.Tags[TagRole] != RolePeer {
		return types.PeerAddress{}, false
	}
	host, port, err := utils.SplitHostPort(m.Tags[TagPeerAddr])
	if err != nil {
		log.Error("unable to parse %s of %s: %v", TagPeerAddr, m.Name, err)
		return types.PeerAddress{}, false
	}
	return types.PeerAddress{Host: host, Port: port}, true
}

// handleSerfMemberJoin asks a peer that joins without a registration, as
// after a failure it recovered from, to announce itself and its topics.
func (d *Directory) handleSerfMemberJoin(e serf.MemberEvent) {
	for _, m := range e.Members {
		peer, ok := peerOfMember(m)
		if !ok {
			continue
		}
		log.Info("Peer %s joined serf as %s", peer, m.Name)
		if d.IsLeader() && !d.FSM.PeerExists(peer) {
			go d.requestAnnounce(peer)
		}
	}
}

func (d *Directory) requestAnnounce(peer types.PeerAddress) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.ShutDownSignal:
			cancel()
		case <-ctx.Done():
		}
	}()
	resp, err := d.Client.Do(ctx, peer.String(), types.Request{Command: protocol.AnnounceCommand})
	if err != nil {
		log.Warn("Peer %s did not announce itself: %v", peer, err)
		return
	}
	log.Info("Peer %s is back: %s", peer, resp.Message)
}

// handleSerfMemberLeft unregisters the peers behind departed members
func (d *Directory) handleSerfMemberLeft(e serf.MemberEvent) {
	for _, m := range e.Members {
		peer, ok := peerOfMember(m)
		if !ok || !d.IsLeader() {
			continue
		}
		res, err := d.apply(peerraft.UnregisterPeer, peerraft.PeerPayload{Peer: peer})
		switch {
		case errors.Is(err, protocol.ErrPeerNotFound):
			log.Debug("Peer %s already unregistered", peer)
		case err != nil:
			log.Error("failed to unregister peer %s after %v: %v", peer, e.EventType(), err)
		default:
			log.Warn("Peer %s lost its lease (%v), removed topics %v", peer, e.EventType(), res.Removed)
		}
	}
}

// PeerTags returns the serf tags a peer advertises
func PeerTags(peer types.PeerAddress) map[string]string {
	return map[string]string{
		TagRole:     RolePeer,
		TagPeerAddr: peer.String(),
	}
}
