package state

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/CefBoud/peerbus/protocol"
	"github.com/CefBoud/peerbus/serde"
	"github.com/CefBoud/peerbus/types"
)

// MaxPullBytes bounds the JSON encoded messages returned by one pull, so
// the response always fits in a frame.
const MaxPullBytes = serde.MaxBodySize - pullResponseOverhead

// {"status":"success","messages":[],"more":true} plus slack
const pullResponseOverhead = 64

// MessageSize is the space a message takes in a pull response
func MessageSize(message string) int {
	encoded, err := json.Marshal(message)
	if err != nil {
		return len(message)
	}
	return len(encoded) + 1
}

// HostedTopic is a topic owned by this peer: the buffer of published
// messages and the subscriber table. A subscriber is marked pulled once it
// has read the whole current buffer, possibly over several pages.
//
// The buffer is only cleared, and every subscriber reset, when all
// subscribers have pulled it. Both happen under the same lock as the pull
// that completes the set.
type HostedTopic struct {
	Name string

	mu          sync.Mutex
	buffer      []string
	subscribers map[types.PeerAddress]*subscriberState
	pageBytes   int
}

type subscriberState struct {
	pulled bool
	// next is the first message of the next page when a pull of the
	// current buffer was cut short, 0 otherwise
	next int
}

// Requester names the peer behind a pull. Without a host of its own the
// request is matched against the subscriber table on port alone.
type Requester struct {
	Addr       types.PeerAddress
	Identified bool
	PortOnly   bool
}

// Page is the result of one pull
type Page struct {
	Messages []string
	// More is set when the buffer holds messages past this page
	More    bool
	Cleared bool
}

// NewHostedTopic creates an empty topic
func NewHostedTopic(name string) *HostedTopic {
	return &HostedTopic{
		Name:        name,
		subscribers: make(map[types.PeerAddress]*subscriberState),
		pageBytes:   MaxPullBytes,
	}
}

// Publish appends message to the buffer and returns the subscribers to push
// it to, as of the append.
func (t *HostedTopic) Publish(message string) []types.PeerAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer = append(t.buffer, message)
	return t.subscriberList()
}

// Lookup finds the subscriber entry matching addr. With portOnly, an entry
// with the same port matches when it is the only one.
func (t *HostedTopic) Lookup(addr types.PeerAddress, portOnly bool) (types.PeerAddress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup(addr, portOnly)
}

func (t *HostedTopic) lookup(addr types.PeerAddress, portOnly bool) (types.PeerAddress, bool) {
	if _, ok := t.subscribers[addr]; ok || !portOnly {
		return addr, ok
	}
	var match types.PeerAddress
	n := 0
	for sub := range t.subscribers {
		if sub.Port == addr.Port {
			match = sub
			n++
		}
	}
	return match, n == 1
}

// Subscribe records sub with its pulled flag unset. It reports whether sub
// was already subscribed; a second subscription also resets the flag.
func (t *HostedTopic) Subscribe(sub types.PeerAddress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, existed := t.subscribers[sub]
	t.subscribers[sub] = &subscriberState{}
	return existed
}

// Unsubscribe drops sub. If the subscribers left have all pulled the
// buffer, it is cleared as a pull would have done. found is false when sub
// was not subscribed.
func (t *HostedTopic) Unsubscribe(sub types.PeerAddress) (found, cleared bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found = t.subscribers[sub]; !found {
		return false, false
	}
	delete(t.subscribers, sub)
	// with nobody left the buffer waits for a reader
	if len(t.subscribers) > 0 && len(t.buffer) > 0 && t.allPulled() {
		t.clear()
		cleared = true
	}
	return true, cleared
}

// Pull reads the buffer as requester, addressed exactly. See PullPage.
func (t *HostedTopic) Pull(requester types.PeerAddress, identified bool) (messages []string, cleared bool, err error) {
	page, err := t.PullPage(Requester{Addr: requester, Identified: identified})
	return page.Messages, page.Cleared, err
}

// PullPage returns a copy of the buffer, or of its next page when the
// buffer does not fit in one response. A subscriber resumes where its last
// short page ended and is marked pulled with the page that reaches the end;
// that can complete the set and clear the buffer. A requester that is not
// in the table reads the first page without affecting the clear. With no
// subscribers at all, a pull returning the whole buffer clears it.
func (t *HostedTopic) PullPage(r Requester) (Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buffer) == 0 {
		return Page{}, protocol.ErrEmptyBuffer
	}

	var sub *subscriberState
	if r.Identified {
		if addr, ok := t.lookup(r.Addr, r.PortOnly); ok {
			sub = t.subscribers[addr]
		}
	}
	start := 0
	if sub != nil {
		start = sub.next
	}
	end := t.pageEnd(start)

	page := Page{Messages: make([]string, end-start), More: end < len(t.buffer)}
	copy(page.Messages, t.buffer[start:end])
	if sub != nil {
		if page.More {
			sub.next = end
		} else {
			sub.pulled, sub.next = true, 0
		}
	}
	if !page.More && t.allPulled() {
		t.clear()
		page.Cleared = true
	}
	return page, nil
}

// pageEnd returns the end of the page starting at start. A page holds at
// least one message.
func (t *HostedTopic) pageEnd(start int) int {
	size := MessageSize(t.buffer[start])
	end := start + 1
	for end < len(t.buffer) {
		size += MessageSize(t.buffer[end])
		if size > t.pageBytes {
			break
		}
		end++
	}
	return end
}

// Subscribers returns the current subscribers sorted by address
func (t *HostedTopic) Subscribers() []types.PeerAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscriberList()
}

// Pulled reports the flag of sub
func (t *HostedTopic) Pulled(sub types.PeerAddress) (pulled, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.subscribers[sub]
	if !ok {
		return false, false
	}
	return entry.pulled, true
}

// Buffered returns the number of messages waiting in the buffer
func (t *HostedTopic) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

func (t *HostedTopic) allPulled() bool {
	for _, sub := range t.subscribers {
		if !sub.pulled {
			return false
		}
	}
	return true
}

func (t *HostedTopic) clear() {
	t.buffer = nil
	for _, sub := range t.subscribers {
		sub.pulled, sub.next = false, 0
	}
}

func (t *HostedTopic) subscriberList() []types.PeerAddress {
	subs := make([]types.PeerAddress, 0, len(t.subscribers))
	for sub := range t.subscribers {
		subs = append(subs, sub)
	}
	sortAddresses(subs)
	return subs
}

func sortAddresses(addrs []types.PeerAddress) {
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Host != addrs[j].Host {
			return addrs[i].Host < addrs[j].Host
		}
		return addrs[i].Port < addrs[j].Port
	})
}

// TopicStats is a point in time view of a hosted topic
type TopicStats struct {
	Topic       string   `json:"topic"`
	Buffered    int      `json:"buffered"`
	Subscribers []string `json:"subscribers"`
}

// Stats returns a snapshot of the topic for reporting
func (t *HostedTopic) Stats() TopicStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := TopicStats{Topic: t.Name, Buffered: len(t.buffer), Subscribers: []string{}}
	for _, sub := range t.subscriberList() {
		stats.Subscribers = append(stats.Subscribers, sub.String())
	}
	return stats
}

// Table holds the topics hosted by a peer
type Table struct {
	mu     sync.RWMutex
	topics map[string]*HostedTopic
}

// NewTable returns an empty table
func NewTable() *Table {
	return &Table{topics: make(map[string]*HostedTopic)}
}

// Create adds an empty topic. It returns false if the topic is already hosted.
func (t *Table) Create(name string) (*HostedTopic, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.topics[name]; exists {
		return nil, false
	}
	topic := NewHostedTopic(name)
	t.topics[name] = topic
	return topic, true
}

// Get returns a hosted topic
func (t *Table) Get(name string) (*HostedTopic, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	topic, ok := t.topics[name]
	return topic, ok
}

// TopicExists checks if name is hosted
func (t *Table) TopicExists(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Delete removes a topic and reports whether it was hosted
func (t *Table) Delete(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.topics[name]
	delete(t.topics, name)
	return ok
}

// Names returns the hosted topic names, sorted
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.topics))
	for name := range t.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of every hosted topic, sorted by name
func (t *Table) Stats() []TopicStats {
	names := t.Names()
	stats := make([]TopicStats, 0, len(names))
	for _, name := range names {
		if topic, ok := t.Get(name); ok {
			stats = append(stats, topic.Stats())
		}
	}
	return stats
}
