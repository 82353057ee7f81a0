// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client implements the swarm coordinator: the component that
// announces a torrent to a tracker, dials and accepts peer connections,
// and owns the single mutex that serializes bookkeeping across every
// session sharing one torrent.
package client

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/atomic"

	"github.com/kadircet/bitswarm/core"
	"github.com/kadircet/bitswarm/internal/xlog"
	"github.com/kadircet/bitswarm/metainfo"
	"github.com/kadircet/bitswarm/peerwire"
	"github.com/kadircet/bitswarm/session"
	"github.com/kadircet/bitswarm/storage"
	"github.com/kadircet/bitswarm/utils/bandwidth"
	"github.com/kadircet/bitswarm/utils/timeutil"
)

// watchdogInterval is how often the stalled-request watchdog sweeps the
// torrent for blocks to reclaim, when StalledRequestTimeout is set.
const watchdogInterval = 5 * time.Second

// AnnounceResult is a tracker's response to a single announce request.
type AnnounceResult struct {
	Interval   time.Duration
	Complete   int
	Incomplete int
	Peers      []core.PeerInfo
}

// AnnounceClient reports this client's progress on a single torrent to a
// tracker and returns the interval until the next announce along with
// the swarm's current peer list. trackerclient.Client is the production
// implementation; tests supply a fake.
type AnnounceClient interface {
	Announce(infoHash core.InfoHash, peerID core.PeerID, port int, uploaded, downloaded, left int64, event string) (AnnounceResult, error)
}

// Config configures a Client's networking and announce behavior.
type Config struct {
	// ListenAddr is the address to accept inbound peer connections on,
	// e.g. ":6881". Empty disables the accept loop, seeding only to
	// peers this Client dials itself.
	ListenAddr string

	// AnnounceInterval overrides the tracker-provided announce
	// interval when non-zero.
	AnnounceInterval time.Duration

	// StalledRequestTimeout, if non-zero, enables the watchdog that
	// reclaims a block still marked requested after this long without a
	// Piece message -- the resend path for the case where a peer
	// silently drops a request instead of disconnecting. Zero disables
	// the watchdog: a requested block is then only released when its
	// piece fails hash verification and every block is reset.
	StalledRequestTimeout time.Duration

	Bandwidth bandwidth.Config
}

// Client coordinates every peer session for a single torrent: announcing
// to the tracker, dialing and accepting connections, and publishing
// progress events. A single mutex guards its peer bookkeeping, following
// the specification's one-mutex-per-client design; the mutex is dropped
// before any blocking I/O, matching the discipline the sessions below it
// already follow.
type Client struct {
	config  Config
	peerID  core.PeerID
	mi      *metainfo.MetaInfo
	torrent *storage.Torrent
	tracker AnnounceClient
	sink    *Sink
	clk     clock.Clock
	stats   tally.Scope
	limiter *bandwidth.Limiter

	mu sync.Mutex
	// peers indexes every live session by remote peer id.
	peers map[core.PeerID]*session.Peer
	// announced tracks which piece indices have already had a Have
	// broadcast to connected peers, distinct from storage.Torrent's own
	// completion bitfield (which reflects verified-on-disk state, not
	// notification state already sent out).
	announced   *bitset.BitSet
	lastPieceAt time.Time

	listener net.Listener
	closed   *atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewClient creates a Client for an already-opened torrent. Start must
// be called to begin announcing and accepting connections.
func NewClient(
	config Config,
	peerID core.PeerID,
	mi *metainfo.MetaInfo,
	torrent *storage.Torrent,
	tracker AnnounceClient,
	stats tally.Scope,
	clk clock.Clock,
) (*Client, error) {
	limiter, err := bandwidth.NewLimiter(config.Bandwidth)
	if err != nil {
		return nil, fmt.Errorf("client: bandwidth limiter: %w", err)
	}

	c := &Client{
		config:      config,
		peerID:      peerID,
		mi:          mi,
		torrent:     torrent,
		tracker:     tracker,
		sink:        NewSink(),
		clk:         clk,
		stats:       stats.SubScope("torrent").SubScope(mi.Info.Name),
		limiter:     limiter,
		peers:       make(map[core.PeerID]*session.Peer),
		announced:   bitset.New(uint(mi.Info.NumPieces())),
		lastPieceAt: clk.Now(),
		closed:      atomic.NewBool(false),
		done:        make(chan struct{}),
	}
	torrent.OnComplete = c.onPieceComplete

	c.sink.publish(UpdateNameEvent{Name: mi.Info.Name})
	c.sink.publish(UpdateInfoHashEvent{InfoHash: mi.InfoHash})
	c.sink.publish(UpdateNumPiecesEvent{NumPieces: mi.Info.NumPieces()})

	return c, nil
}

// Events returns a channel of this Client's published Events. Each call
// creates a new, independent subscription.
func (c *Client) Events() <-chan Event {
	return c.sink.Subscribe()
}

// Start launches the accept loop (if configured) and the announce loop.
func (c *Client) Start() error {
	if c.config.ListenAddr != "" {
		ln, err := net.Listen("tcp", c.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("client: listen: %w", err)
		}
		c.listener = ln
		c.wg.Add(1)
		go c.acceptLoop()
	}
	c.wg.Add(1)
	go c.announceLoop()
	if c.config.StalledRequestTimeout > 0 {
		c.wg.Add(1)
		go c.watchdogLoop()
	}
	return nil
}

// Close tears down every peer session, stops accepting and announcing,
// and releases the underlying torrent file.
func (c *Client) Close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}
	close(c.done)
	if c.listener != nil {
		c.listener.Close()
	}

	c.mu.Lock()
	peers := make([]*session.Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()
	for _, p := range peers {
		p.Conn.Close()
	}

	c.wg.Wait()
	return c.torrent.Close()
}

// Torrent returns the torrent this Client is coordinating.
func (c *Client) Torrent() *storage.Torrent {
	return c.torrent
}

// ConnClosed implements session.Events.
func (c *Client) ConnClosed(conn *session.Conn) {
	c.mu.Lock()
	delete(c.peers, conn.PeerID())
	c.mu.Unlock()
	c.sink.publish(UpdatePeerListEvent{Peers: c.peerList()})
}

// HandleMessage implements session.Events, routing an incoming message
// to the Peer that owns conn.
func (c *Client) HandleMessage(conn *session.Conn, msg peerwire.Message) {
	c.mu.Lock()
	peer, ok := c.peers[conn.PeerID()]
	c.mu.Unlock()
	if !ok {
		return
	}
	peer.HandleMessage(msg)
}

// Unchoked implements session.Notifier.
func (c *Client) Unchoked(peerID core.PeerID) {
	c.sink.publish(UnchokedEvent{PeerID: peerID})
}

// Choked implements session.Notifier.
func (c *Client) Choked(peerID core.PeerID) {
	c.sink.publish(ChokedEvent{PeerID: peerID})
}

func (c *Client) acceptLoop() {
	defer c.wg.Done()
	for {
		nc, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
				xlog.Errorf("client: accept: %s", err)
				return
			}
		}
		go c.handleInbound(nc)
	}
}

func (c *Client) handleInbound(nc net.Conn) {
	if addr, ok := nc.RemoteAddr().(*net.TCPAddr); ok && addr.IP.To4() == nil {
		xlog.With("remote", nc.RemoteAddr()).Infof("client: dropping non-IPv4 peer")
		nc.Close()
		return
	}
	hs, err := peerwire.ReadHandshake(nc)
	if err != nil {
		xlog.Errorf("client: inbound handshake: %s", err)
		nc.Close()
		return
	}
	if !hs.InfoHash.Equal(c.mi.InfoHash) {
		xlog.With("remote_peer", hs.PeerID).Infof("client: inbound handshake for unknown torrent")
		nc.Close()
		return
	}
	out := peerwire.Handshake{InfoHash: c.mi.InfoHash, PeerID: c.peerID}
	if err := out.Write(nc); err != nil {
		nc.Close()
		return
	}
	c.addConn(nc, hs.PeerID)
}

func (c *Client) dialPeer(pi core.PeerInfo) {
	if pi.PeerID == c.peerID {
		return
	}
	c.mu.Lock()
	_, exists := c.peers[pi.PeerID]
	c.mu.Unlock()
	if exists {
		return
	}

	nc, err := net.DialTimeout("tcp", pi.Addr(), 10*time.Second)
	if err != nil {
		xlog.With("peer", pi.PeerID).Infof("client: dial: %s", err)
		return
	}
	hs, err := peerwire.Exchange(nc, peerwire.Handshake{InfoHash: c.mi.InfoHash, PeerID: c.peerID})
	if err != nil {
		xlog.With("peer", pi.PeerID).Infof("client: handshake: %s", err)
		nc.Close()
		return
	}
	if !hs.InfoHash.Equal(c.mi.InfoHash) {
		nc.Close()
		return
	}
	c.addConn(nc, hs.PeerID)
}

func (c *Client) addConn(nc net.Conn, peerID core.PeerID) {
	conn := session.New(nc, peerID, c.mi.InfoHash, c.limiter, c)
	peer := session.NewPeer(conn, c.torrent).WithNotifier(c)

	c.mu.Lock()
	if _, exists := c.peers[peerID]; exists {
		c.mu.Unlock()
		nc.Close()
		return
	}
	c.peers[peerID] = peer
	c.mu.Unlock()

	conn.Start()
	if err := conn.Send(peerwire.NewBitfield(c.torrent.Bitfield().AsBytes())); err != nil {
		xlog.With("peer", peerID).Errorf("client: send initial bitfield: %s", err)
	}
	c.sink.publish(UpdatePeerListEvent{Peers: c.peerList()})
}

func (c *Client) peerList() []core.PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers := make([]core.PeerInfo, 0, len(c.peers))
	for id, p := range c.peers {
		host, portStr, err := net.SplitHostPort(p.Conn.RemoteAddr().String())
		if err != nil {
			continue
		}
		port, _ := strconv.Atoi(portStr)
		peers = append(peers, core.PeerInfo{PeerID: id, IP: host, Port: port})
	}
	return peers
}

func (c *Client) announceLoop() {
	defer c.wg.Done()

	event := "started"
	interval := c.config.AnnounceInterval
	for {
		left := c.mi.Info.Length - c.torrent.BytesDownloaded()
		res, err := c.tracker.Announce(c.mi.InfoHash, c.peerID, c.listenPort(), 0, c.torrent.BytesDownloaded(), left, event)
		if err != nil {
			xlog.Errorf("client: announce: %s", err)
		} else {
			if c.config.AnnounceInterval == 0 {
				interval = res.Interval
			}
			for _, pi := range res.Peers {
				go c.dialPeer(pi)
			}
		}
		event = ""

		select {
		case <-c.done:
			return
		case <-c.clk.After(interval):
		}
	}
}

func (c *Client) listenPort() int {
	if c.listener == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(c.listener.Addr().String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// watchdogLoop periodically reclaims blocks that have been requested
// longer than StalledRequestTimeout without a matching Piece message,
// modeled on the teacher's dispatcher watching for pieces that never
// complete and resetting them for re-request from another peer. Reclaim
// clears the requested bit, then every connected peer drops its in-flight
// marker for the affected pieces and refills its pipeline at once.
func (c *Client) watchdogLoop() {
	defer c.wg.Done()
	for {
		t := timeutil.NewTimer(watchdogInterval)
		t.Start()
		select {
		case <-c.done:
			t.Cancel()
			return
		case <-t.C:
		}

		reclaimed := c.torrent.ReclaimStalled(c.config.StalledRequestTimeout, c.clk.Now())
		if len(reclaimed) == 0 {
			continue
		}

		c.mu.Lock()
		peers := make([]*session.Peer, 0, len(c.peers))
		for _, p := range c.peers {
			peers = append(peers, p)
		}
		c.mu.Unlock()

		for index, offsets := range reclaimed {
			xlog.With("piece", index, "blocks", len(offsets)).Infof("client: reclaimed stalled block requests")
			for _, p := range peers {
				p.Leech.ReleaseInFlight(index)
			}
		}
		for _, p := range peers {
			if err := p.Leech.FillPipeline(); err != nil {
				xlog.With("peer", p.Conn.PeerID()).Errorf("client: refill pipeline after reclaim: %s", err)
			}
		}
	}
}

// onPieceComplete is storage.Torrent's OnComplete hook: it fires once a
// piece passes hash verification and is flushed to disk, publishing the
// DownloadedPiece and UpdateSpeed events (spec section 4.8) and
// broadcasting a Have to every connected peer.
func (c *Client) onPieceComplete(index int) {
	now := c.clk.Now()
	c.mu.Lock()
	elapsed := now.Sub(c.lastPieceAt)
	c.lastPieceAt = now
	alreadyAnnounced := c.announced.Test(uint(index))
	c.announced.Set(uint(index))
	peers := make([]*session.Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	c.stats.Counter("pieces_completed").Inc(1)

	mbps := 0.0
	if piece, err := c.torrent.Piece(index); err == nil && elapsed > 0 {
		mbps = (float64(piece.Length()) / (1024 * 1024)) / elapsed.Seconds()
	}

	c.sink.publish(DownloadedPieceEvent{Index: index})
	c.sink.publish(UpdateSpeedEvent{MBps: mbps})

	if alreadyAnnounced {
		return
	}
	for _, p := range peers {
		if err := p.Seed.AnnounceHave(index); err != nil {
			xlog.With("peer", p.Conn.PeerID(), "piece", index).Errorf("client: announce have: %s", err)
		}
	}

	if c.torrent.Complete() {
		for _, p := range peers {
			if err := p.AnnounceComplete(); err != nil {
				xlog.With("peer", p.Conn.PeerID()).Errorf("client: announce complete: %s", err)
			}
		}
	}
}
