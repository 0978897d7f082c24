package peer

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CefBoud/peerbus/directory"
	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/serde"
	"github.com/CefBoud/peerbus/state"
	"github.com/CefBoud/peerbus/types"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *recorder) record(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recorder) by(d Delivery) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Delivery == d {
			out = append(out, m)
		}
	}
	return out
}

func startDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	d := directory.New(types.DirectoryConfig{Host: "127.0.0.1", Port: 0}, serde.Encoder{})
	require.NoError(t, d.Startup())
	go d.Serve()
	t.Cleanup(d.Shutdown)
	return d
}

func peerConfig(d *directory.Directory) types.PeerConfig {
	return types.PeerConfig{
		Host:           "127.0.0.1",
		DirectoryHost:  "127.0.0.1",
		DirectoryPort:  d.Addr().(*net.TCPAddr).Port,
		PollIntervalMs: int(time.Hour / time.Millisecond),
		CallTimeoutMs:  2000,
		Compression:    "none",
	}
}

func startPeer(t *testing.T, config types.PeerConfig) (*Peer, *recorder) {
	t.Helper()
	p, err := New(config)
	require.NoError(t, err)
	rec := &recorder{}
	p.OnMessage = rec.record
	require.NoError(t, p.Startup())
	go p.Serve()
	t.Cleanup(p.Shutdown)
	return p, rec
}

func send(t *testing.T, p *Peer, req types.Request) (types.Response, error) {
	t.Helper()
	c := protocol.NewClient(5*time.Second, serde.Encoder{})
	return c.Do(context.Background(), p.Address.String(), req)
}

func closedAddress(t *testing.T) types.PeerAddress {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return types.PeerAddress{Host: "127.0.0.1", Port: port}
}

func TestCreateTopicRegistersWithDirectory(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))

	resp, err := send(t, p, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	assert.Equal(t, "Topic 'Sports' created", resp.Message)

	owner, ok := d.FSM.Owner("Sports")
	require.True(t, ok)
	assert.Equal(t, p.Address, owner)

	_, err = send(t, p, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	assert.ErrorIs(t, err, protocol.ErrTopicAlreadyExists)
}

func TestCreateTopicRollsBackOnDirectoryRejection(t *testing.T) {
	d := startDirectory(t)
	p1, _ := startPeer(t, peerConfig(d))
	p2, _ := startPeer(t, peerConfig(d))

	_, err := send(t, p1, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)

	_, err = send(t, p2, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	assert.ErrorIs(t, err, protocol.ErrTopicAlreadyExists)
	assert.False(t, p2.Topics.TopicExists("Sports"))

	// and when the directory cannot be reached at all
	gone := closedAddress(t)
	p2.Config.DirectoryPort = gone.Port
	_, err = send(t, p2, types.Request{Command: protocol.CreateTopicCommand, Topic: "News"})
	assert.ErrorIs(t, err, protocol.ErrRemoteUnreachable)
	assert.False(t, p2.Topics.TopicExists("News"))
}

func TestDeleteTopic(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))
	_, err := send(t, p, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)

	_, err = send(t, p, types.Request{Command: protocol.DeleteTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	assert.False(t, p.Topics.TopicExists("Sports"))
	_, ok := d.FSM.Owner("Sports")
	assert.False(t, ok)

	_, err = send(t, p, types.Request{Command: protocol.DeleteTopicCommand, Topic: "Sports"})
	assert.ErrorIs(t, err, protocol.ErrTopicNotFound)
}

func TestPushFanOut(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	sub1, rec1 := startPeer(t, peerConfig(d))
	sub2, rec2 := startPeer(t, peerConfig(d))

	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	for _, sub := range []*Peer{sub1, sub2} {
		_, err := send(t, sub, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
		require.NoError(t, err)
	}

	resp, err := send(t, owner, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "Football match tonight!"})
	require.NoError(t, err)
	assert.Equal(t, "Message published on topic 'Sports'", resp.Message)

	for _, rec := range []*recorder{rec1, rec2} {
		pushed := rec.by(Push)
		require.Len(t, pushed, 1)
		assert.Equal(t, Message{Topic: "Sports", Payload: "Football match tonight!", Delivery: Push}, pushed[0])
	}
}

func TestPushFailureDoesNotFailPublish(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	sub, rec := startPeer(t, peerConfig(d))
	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	_, err = send(t, sub, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
	require.NoError(t, err)

	gone := closedAddress(t)
	_, err = send(t, owner, types.Request{Command: protocol.SubscribeToPeerCommand, Topic: "Sports", SubscriberHost: gone.Host, SubscriberPort: gone.Port})
	require.NoError(t, err)

	_, err = send(t, owner, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "hello"})
	require.NoError(t, err)
	assert.Len(t, rec.by(Push), 1)

	topic, _ := owner.Topics.Get("Sports")
	err = owner.forwardToSubscribers(context.Background(), "Sports", "again", topic.Subscribers())
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrRemoteUnreachable)
	assert.Contains(t, err.Error(), gone.String())
}

func TestAllPullClearOverTCP(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)

	s1, s2 := closedAddress(t), closedAddress(t)
	for _, s := range []types.PeerAddress{s1, s2} {
		_, err := send(t, owner, types.Request{Command: protocol.SubscribeToPeerCommand, Topic: "Sports", SubscriberHost: s.Host, SubscriberPort: s.Port})
		require.NoError(t, err)
	}
	_, err = send(t, owner, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "Football match tonight!"})
	require.NoError(t, err)

	pull := func(s types.PeerAddress) (types.Response, error) {
		return send(t, owner, types.Request{Command: protocol.PullCommand, Topic: "Sports", SubscriberHost: s.Host, SubscriberPort: s.Port})
	}
	resp, err := pull(s1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Football match tonight!"}, resp.Messages)
	topic, _ := owner.Topics.Get("Sports")
	assert.Equal(t, 1, topic.Buffered())

	resp, err = pull(s2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Football match tonight!"}, resp.Messages)
	assert.Equal(t, 0, topic.Buffered())

	resp, err = pull(s1)
	assert.ErrorIs(t, err, protocol.ErrEmptyBuffer)
	assert.Equal(t, "No messages to pull", resp.Message)

	_, err = send(t, owner, types.Request{Command: protocol.PullCommand, Topic: "Weather"})
	assert.ErrorIs(t, err, protocol.ErrTopicNotFound)
}

func TestPullLargerThanOneResponseIsPaged(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)

	s1 := closedAddress(t)
	_, err = send(t, owner, types.Request{Command: protocol.SubscribeToPeerCommand, Topic: "Sports", SubscriberHost: s1.Host, SubscriberPort: s1.Port})
	require.NoError(t, err)
	first, second := strings.Repeat("a", 40*1024), strings.Repeat("b", 40*1024)
	for _, m := range []string{first, second} {
		_, err = send(t, owner, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: m})
		require.NoError(t, err)
	}
	topic, _ := owner.Topics.Get("Sports")

	pull := types.Request{Command: protocol.PullCommand, Topic: "Sports", SubscriberHost: s1.Host, SubscriberPort: s1.Port}
	resp, err := send(t, owner, pull)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, resp.Messages)
	assert.True(t, resp.More)
	assert.Equal(t, 2, topic.Buffered())

	resp, err = send(t, owner, pull)
	require.NoError(t, err)
	assert.Equal(t, []string{second}, resp.Messages)
	assert.False(t, resp.More)
	assert.Equal(t, 0, topic.Buffered())
}

func TestPollerFollowsPages(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	config := peerConfig(d)
	config.PollIntervalMs = 20
	sub, rec := startPeer(t, config)

	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	_, err = send(t, sub, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
	require.NoError(t, err)
	for _, c := range "abc" {
		_, err = send(t, owner, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: strings.Repeat(string(c), 30*1024)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(rec.by(Pull)) >= 3 }, 5*time.Second, 10*time.Millisecond)
	pulled := rec.by(Pull)
	for i, c := range "abc" {
		assert.Equal(t, strings.Repeat(string(c), 30*1024), pulled[i].Payload)
	}
	topic, _ := owner.Topics.Get("Sports")
	require.Eventually(t, func() bool { return topic.Buffered() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPullWithoutHostMatchesSubscriberByPort(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)

	// registered under a name, while requests arrive from 127.0.0.1
	sub := types.PeerAddress{Host: "localhost", Port: closedAddress(t).Port}
	_, err = send(t, owner, types.Request{Command: protocol.SubscribeToPeerCommand, Topic: "Sports", SubscriberHost: sub.Host, SubscriberPort: sub.Port})
	require.NoError(t, err)
	// a host-less subscription updates the same entry
	_, err = send(t, owner, types.Request{Command: protocol.SubscribeToPeerCommand, Topic: "Sports", SubscriberPort: sub.Port})
	require.NoError(t, err)
	topic, _ := owner.Topics.Get("Sports")
	assert.Equal(t, []types.PeerAddress{sub}, topic.Subscribers())

	_, err = send(t, owner, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "Football match tonight!"})
	require.NoError(t, err)
	resp, err := send(t, owner, types.Request{Command: protocol.PullCommand, Topic: "Sports", SubscriberPort: sub.Port})
	require.NoError(t, err)
	assert.Equal(t, []string{"Football match tonight!"}, resp.Messages)
	assert.Equal(t, 0, topic.Buffered())

	_, err = send(t, owner, types.Request{Command: protocol.UnsubscribeFromPeerCommand, Topic: "Sports", SubscriberPort: sub.Port})
	require.NoError(t, err)
	assert.Empty(t, topic.Subscribers())
}

func TestPublishTooLargeForAPull(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))
	_, err := send(t, p, types.Request{Command: protocol.CreateTopicCommand, Topic: "S"})
	require.NoError(t, err)

	message := strings.Repeat("x", state.MaxPullBytes-2)
	_, err = send(t, p, types.Request{Command: protocol.PublishCommand, Topic: "S", Message: message})
	assert.ErrorIs(t, err, protocol.ErrMessageTooLarge)
	topic, _ := p.Topics.Get("S")
	assert.Equal(t, 0, topic.Buffered())
}

func TestPublishUnknownTopicWithoutPeerConnection(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))

	directoryAddress := p.Config.DirectoryAddress().String()
	var dials atomic.Int32
	p.Client.Dial = func(ctx context.Context, address string) (net.Conn, error) {
		if address != directoryAddress {
			dials.Add(1)
		}
		var dialer net.Dialer
		return dialer.DialContext(ctx, "tcp", address)
	}

	_, err := send(t, p, types.Request{Command: protocol.PublishCommand, Topic: "Unknown", Message: "hi"})
	assert.ErrorIs(t, err, protocol.ErrTopicNotFound)
	assert.Equal(t, int32(0), dials.Load())
}

func TestPublishForwardedToOwner(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	other, _ := startPeer(t, peerConfig(d))
	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)

	resp, err := send(t, other, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "Football match tonight!"})
	require.NoError(t, err)
	assert.Equal(t, "Message published on topic 'Sports'", resp.Message)

	topic, _ := owner.Topics.Get("Sports")
	assert.Equal(t, 1, topic.Buffered())
	assert.False(t, other.Topics.TopicExists("Sports"))
}

func TestForwardedPublishIsNotForwardedAgain(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))
	_, err := send(t, p, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "x", Forwarded: true})
	assert.ErrorIs(t, err, protocol.ErrTopicNotFound)
}

func TestPublishLocalMismatch(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))

	// a stale directory entry pointing at p
	c := protocol.NewClient(time.Second, serde.Encoder{})
	_, err := c.Do(context.Background(), d.Addr().String(), types.Request{Command: protocol.AddTopicCommand, Topic: "Sports", Host: p.Address.Host, Port: p.Address.Port})
	require.NoError(t, err)

	resp, err := send(t, p, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "x"})
	assert.ErrorIs(t, err, protocol.ErrLocalMismatch)
	assert.Equal(t, protocol.CodeLocalMismatch, resp.Code)
}

func TestSubscribeUnknownTopic(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))
	_, err := send(t, p, types.Request{Command: protocol.SubscribeCommand, Topic: "Unknown"})
	assert.ErrorIs(t, err, protocol.ErrTopicNotFound)
	assert.Empty(t, p.Subscriptions())
}

func TestSubscribeWithDirectoryUnreachable(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))
	p.Config.DirectoryPort = closedAddress(t).Port

	resp, err := send(t, p, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
	assert.ErrorIs(t, err, protocol.ErrTopicNotFound)
	assert.Equal(t, protocol.CodeNotFound, resp.Code)
	assert.Empty(t, p.Subscriptions())
}

func TestAnnounceRestoresDirectoryEntries(t *testing.T) {
	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))
	for _, topic := range []string{"Sports", "News"} {
		_, err := send(t, p, types.Request{Command: protocol.CreateTopicCommand, Topic: topic})
		require.NoError(t, err)
	}

	c := protocol.NewClient(time.Second, serde.Encoder{})
	_, err := c.Do(context.Background(), d.Addr().String(), types.Request{Command: protocol.UnregisterPeerCommand, Host: p.Address.Host, Port: p.Address.Port})
	require.NoError(t, err)
	require.False(t, d.FSM.PeerExists(p.Address))

	resp, err := send(t, p, types.Request{Command: protocol.AnnounceCommand})
	require.NoError(t, err)
	assert.Equal(t, "Peer "+p.Address.String()+" announced 2 topics", resp.Message)
	assert.True(t, d.FSM.PeerExists(p.Address))
	for _, topic := range []string{"Sports", "News"} {
		owner, ok := d.FSM.Owner(topic)
		require.True(t, ok)
		assert.Equal(t, p.Address, owner)
	}

	// announcing again is harmless
	resp, err = send(t, p, types.Request{Command: protocol.AnnounceCommand})
	require.NoError(t, err)
	assert.Equal(t, "Peer "+p.Address.String()+" announced 2 topics", resp.Message)
}

func TestEndToEnd(t *testing.T) {
	d := startDirectory(t)
	peer1, _ := startPeer(t, peerConfig(d))
	peer2, rec2 := startPeer(t, peerConfig(d))

	_, err := send(t, peer1, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	owner, ok := d.FSM.Owner("Sports")
	require.True(t, ok)
	assert.Equal(t, peer1.Address, owner)

	resp, err := send(t, peer2, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
	require.NoError(t, err)
	assert.Equal(t, "Subscribed to topic 'Sports'", resp.Message)
	topic, _ := peer1.Topics.Get("Sports")
	pulled, ok := topic.Pulled(peer2.Address)
	require.True(t, ok)
	assert.False(t, pulled)
	assert.Equal(t, map[string]types.PeerAddress{"Sports": peer1.Address}, peer2.Subscriptions())

	_, err = send(t, peer1, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "Football match tonight!"})
	require.NoError(t, err)
	require.Len(t, rec2.by(Push), 1)
	// a pushed message is not stored at the receiver
	assert.False(t, peer2.Topics.TopicExists("Sports"))

	resp, err = send(t, peer1, types.Request{Command: protocol.PullCommand, Topic: "Sports", SubscriberHost: peer2.Address.Host, SubscriberPort: peer2.Address.Port})
	require.NoError(t, err)
	assert.Equal(t, []string{"Football match tonight!"}, resp.Messages)
	assert.Equal(t, 0, topic.Buffered())
}

func TestPollerDeliversAndStopsWhenTopicDeleted(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	config := peerConfig(d)
	config.PollIntervalMs = 20
	sub, rec := startPeer(t, config)

	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	_, err = send(t, sub, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
	require.NoError(t, err)

	// subscribing twice keeps a single poller
	_, err = send(t, sub, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
	require.NoError(t, err)
	assert.Len(t, sub.Subscriptions(), 1)

	_, err = send(t, owner, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: "Football match tonight!"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.by(Pull)) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Football match tonight!", rec.by(Pull)[0].Payload)
	// the same message was also pushed
	assert.Len(t, rec.by(Push), 1)
	topic, _ := owner.Topics.Get("Sports")
	assert.Equal(t, 0, topic.Buffered())

	_, err = send(t, owner, types.Request{Command: protocol.DeleteTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sub.Subscriptions()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestUnsubscribe(t *testing.T) {
	d := startDirectory(t)
	owner, _ := startPeer(t, peerConfig(d))
	sub, _ := startPeer(t, peerConfig(d))
	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	_, err = send(t, sub, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
	require.NoError(t, err)

	resp, err := send(t, sub, types.Request{Command: protocol.UnsubscribeCommand, Topic: "Sports"})
	require.NoError(t, err)
	assert.Equal(t, "Unsubscribed from topic 'Sports'", resp.Message)
	assert.Empty(t, sub.Subscriptions())
	topic, _ := owner.Topics.Get("Sports")
	assert.Empty(t, topic.Subscribers())

	_, err = send(t, sub, types.Request{Command: protocol.UnsubscribeCommand, Topic: "Sports"})
	assert.ErrorIs(t, err, protocol.ErrNotSubscribed)
}

func TestShutdownUnregisters(t *testing.T) {
	d := startDirectory(t)
	config := peerConfig(d)
	config.UnregisterOnShutdown = true
	p, _ := startPeer(t, config)
	_, err := send(t, p, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	require.True(t, d.FSM.PeerExists(p.Address))

	p.Shutdown()
	assert.False(t, d.FSM.PeerExists(p.Address))
	_, ok := d.FSM.Owner("Sports")
	assert.False(t, ok)
}

func TestStartupFailsWithoutDirectory(t *testing.T) {
	gone := closedAddress(t)
	p, err := New(types.PeerConfig{Host: "127.0.0.1", DirectoryHost: gone.Host, DirectoryPort: gone.Port, CallTimeoutMs: 500})
	require.NoError(t, err)
	err = p.Startup()
	assert.ErrorIs(t, err, protocol.ErrRemoteUnreachable)
}

func TestCompressedPeers(t *testing.T) {
	d := startDirectory(t)
	config := peerConfig(d)
	config.Compression = "snappy"
	config.CompressionThreshold = 8
	owner, _ := startPeer(t, config)
	sub, rec := startPeer(t, config)

	_, err := send(t, owner, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	_, err = send(t, sub, types.Request{Command: protocol.SubscribeCommand, Topic: "Sports"})
	require.NoError(t, err)
	message := "Football match tonight! Football match tonight! Football match tonight!"
	_, err = send(t, owner, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: message})
	require.NoError(t, err)
	require.Len(t, rec.by(Push), 1)
	assert.Equal(t, message, rec.by(Push)[0].Payload)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := New(types.PeerConfig{Host: "127.0.0.1", Compression: "brotli"})
	assert.Error(t, err)
}

func bufferedGauge(sink *gometrics.InmemSink, topic string) (float32, bool) {
	var value float32
	found := false
	for _, interval := range sink.Data() {
		for _, g := range interval.Gauges {
			if !strings.HasSuffix(g.Name, "peer.topic.buffered") {
				continue
			}
			for _, l := range g.Labels {
				if l.Name == "topic" && l.Value == topic {
					value, found = g.Value, true
				}
			}
		}
	}
	return value, found
}

func TestBufferedGaugeFollowsTopic(t *testing.T) {
	conf := gometrics.DefaultConfig("peerbus_test")
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	sink := gometrics.NewInmemSink(time.Minute, time.Minute)
	_, err := gometrics.NewGlobal(conf, sink)
	require.NoError(t, err)
	t.Cleanup(func() { gometrics.NewGlobal(conf, &gometrics.BlackholeSink{}) })

	d := startDirectory(t)
	p, _ := startPeer(t, peerConfig(d))
	_, err = send(t, p, types.Request{Command: protocol.CreateTopicCommand, Topic: "Sports"})
	require.NoError(t, err)
	for _, m := range []string{"one", "two"} {
		_, err = send(t, p, types.Request{Command: protocol.PublishCommand, Topic: "Sports", Message: m})
		require.NoError(t, err)
	}
	value, ok := bufferedGauge(sink, "Sports")
	require.True(t, ok)
	assert.Equal(t, float32(2), value)

	// with no subscribers the pull clears the buffer
	_, err = send(t, p, types.Request{Command: protocol.PullCommand, Topic: "Sports"})
	require.NoError(t, err)
	value, ok = bufferedGauge(sink, "Sports")
	require.True(t, ok)
	assert.Equal(t, float32(0), value)
}
