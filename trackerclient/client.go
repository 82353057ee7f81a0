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

// Package trackerclient announces a torrent's progress to a tracker over
// a raw socket, following the classic BitTorrent HTTP/1.0-over-TCP
// announce protocol (spec section 4.9) rather than a full HTTP client
// stack: the request is a hand-built GET line, and the response is
// whatever bytes come back after the header/body boundary, bencode
// decoded directly.
package trackerclient

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kadircet/bitswarm/bencode"
	"github.com/kadircet/bitswarm/client"
	"github.com/kadircet/bitswarm/core"
	"github.com/kadircet/bitswarm/utils/urlencode"
)

const (
	httpPort   = "6969"
	httpsPort  = "443"
	customHost = "127.0.0.1"
	customPort = "8080"

	dialTimeout = 10 * time.Second
)

// Client announces to a single tracker. The zero value is not usable;
// construct with New.
type Client struct {
	scheme string // "http", "https", or empty for a bare host:port
	host   string
}

// New parses a tracker announce URL, e.g. "http://tracker.example.com/announce"
// or "https://tracker.example.com:443/announce". A host of "127.0.0.1"
// always dials the tracker's custom loopback protocol on port 8080,
// regardless of scheme, matching the reference tracker's own dual
// client/server implementation.
func New(announceURL string) (*Client, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: parse announce url %q: %w", announceURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("trackerclient: announce url %q has no host", announceURL)
	}
	return &Client{scheme: u.Scheme, host: host}, nil
}

// Announce implements client.AnnounceClient: it sends a single announce
// request and parses the tracker's response.
func (c *Client) Announce(
	infoHash core.InfoHash,
	peerID core.PeerID,
	port int,
	uploaded, downloaded, left int64,
	event string,
) (client.AnnounceResult, error) {
	req := c.buildRequest(infoHash, peerID, port, uploaded, downloaded, left, event)

	conn, loopback, err := c.dial()
	if err != nil {
		return client.AnnounceResult{}, fmt.Errorf("trackerclient: dial %s: %w", c.host, err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, req); err != nil {
		return client.AnnounceResult{}, fmt.Errorf("trackerclient: write request: %w", err)
	}

	var body []byte
	if loopback {
		body, err = readLoopbackBody(conn)
	} else {
		body, err = readHTTPBody(conn)
	}
	if err != nil {
		return client.AnnounceResult{}, err
	}

	return parseAnnounceResponse(body)
}

// dial opens the transport for this tracker. The boolean result reports
// whether the tracker's custom single-read loopback protocol applies,
// as opposed to a standard full-response-then-EOF HTTP/1.0 exchange.
func (c *Client) dial() (net.Conn, bool, error) {
	if c.host == customHost {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(customHost, customPort), dialTimeout)
		return conn, true, err
	}
	if c.scheme == "https" {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", net.JoinHostPort(c.host, httpsPort), nil)
		return conn, false, err
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(c.host, httpPort), dialTimeout)
	return conn, false, err
}

func (c *Client) buildRequest(
	infoHash core.InfoHash,
	peerID core.PeerID,
	port int,
	uploaded, downloaded, left int64,
	event string,
) string {
	params := [][2]string{
		{"info_hash", urlencode.Encode(infoHash.Bytes())},
		{"peer_id", urlencode.Encode(peerID.Bytes())},
		{"ip", "0.0.0.0"},
		{"port", strconv.Itoa(port)},
		{"uploaded", strconv.FormatInt(uploaded, 10)},
		{"downloaded", strconv.FormatInt(downloaded, 10)},
		{"left", strconv.FormatInt(left, 10)},
	}
	if event != "" {
		params = append(params, [2]string{"event", event})
	}

	var query strings.Builder
	for i, p := range params {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(p[0])
		query.WriteByte('=')
		query.WriteString(p[1])
	}

	return fmt.Sprintf("GET /announce?%s HTTP/1.0\r\nHost: %s\r\n\r\n", query.String(), c.host)
}

// readHTTPBody reads the tracker's entire response (it closes the
// connection after writing, as HTTP/1.0 dictates) and returns whatever
// follows the blank line separating headers from body.
func readHTTPBody(conn net.Conn) ([]byte, error) {
	data, err := io.ReadAll(conn)
	if err != nil && len(data) == 0 {
		return nil, fmt.Errorf("trackerclient: read response: %w", err)
	}
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(data, sep)
	if idx < 0 {
		return nil, fmt.Errorf("trackerclient: response has no header/body boundary")
	}
	return data[idx+len(sep):], nil
}

// readLoopbackBody reads a single fixed-size chunk, matching the
// reference tracker server's own one-read-per-message dispatch loop, and
// treats the sixth \r\n-delimited line as the bencoded body directly --
// the tracker's custom loopback protocol has no header block to search
// for a boundary in.
func readLoopbackBody(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: read response: %w", err)
	}
	lines := bytes.Split(buf[:n], []byte("\r\n"))
	const bodyLine = 5
	if len(lines) <= bodyLine {
		return nil, fmt.Errorf("trackerclient: loopback response too short")
	}
	return lines[bodyLine], nil
}

func parseAnnounceResponse(body []byte) (client.AnnounceResult, error) {
	v, err := bencode.Unmarshal(body)
	if err != nil {
		return client.AnnounceResult{}, fmt.Errorf("trackerclient: decode response: %w", err)
	}
	if v.Kind() != bencode.KindDictionary {
		return client.AnnounceResult{}, fmt.Errorf("trackerclient: response is not a dictionary")
	}

	var res client.AnnounceResult
	if iv, ok := v.DictGet("interval"); ok {
		if n, ok := iv.Int(); ok {
			res.Interval = time.Duration(n) * time.Second
		}
	}
	if cv, ok := v.DictGet("complete"); ok {
		if n, ok := cv.Int(); ok {
			res.Complete = int(n)
		}
	}
	if iv, ok := v.DictGet("incomplete"); ok {
		if n, ok := iv.Int(); ok {
			res.Incomplete = int(n)
		}
	}
	if pv, ok := v.DictGet("peers"); ok {
		if items, ok := pv.List(); ok {
			for _, item := range items {
				peer, err := decodePeer(item)
				if err != nil {
					continue
				}
				res.Peers = append(res.Peers, peer)
			}
		}
	}
	return res, nil
}

func decodePeer(d bencode.Value) (core.PeerInfo, error) {
	ipV, ok := d.DictGet("ip")
	if !ok {
		return core.PeerInfo{}, fmt.Errorf("trackerclient: peer missing ip")
	}
	ip, ok := ipV.Text()
	if !ok {
		return core.PeerInfo{}, fmt.Errorf("trackerclient: peer ip is not a string")
	}
	portV, ok := d.DictGet("port")
	if !ok {
		return core.PeerInfo{}, fmt.Errorf("trackerclient: peer missing port")
	}
	port, ok := portV.Int()
	if !ok {
		return core.PeerInfo{}, fmt.Errorf("trackerclient: peer port is not an integer")
	}

	var peerID core.PeerID
	if idV, ok := d.DictGet("id"); ok {
		if idBytes, ok := idV.Bytes(); ok {
			if p, err := core.NewPeerIDFromBytes(idBytes); err == nil {
				peerID = p
			}
		}
	}

	return core.PeerInfo{PeerID: peerID, IP: ip, Port: int(port)}, nil
}
