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
package trackerclient

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadircet/bitswarm/bencode"
	"github.com/kadircet/bitswarm/core"
	"github.com/kadircet/bitswarm/utils/urlencode"
)

func TestBuildRequestFormat(t *testing.T) {
	c := &Client{scheme: "http", host: "torrent.ubuntu.com"}
	infoHash := core.NewInfoHashFromBytes([]byte("hello world"))
	peerID, err := core.NewPeerIDFromBytes([]byte("ABCDEFGHIJ0123456789"))
	require.NoError(t, err)

	req := c.buildRequest(infoHash, peerID, 6881, 0, 0, 0, "started")

	require.True(t, strings.HasPrefix(req, "GET /announce?info_hash="+urlencode.Encode(infoHash.Bytes())))
	require.True(t, strings.Contains(req, "peer_id="+urlencode.Encode(peerID.Bytes())))
	require.True(t, strings.Contains(req, "port=6881"))
	require.True(t, strings.Contains(req, "event=started"))
	require.True(t, strings.HasSuffix(req, "HTTP/1.0\r\nHost: torrent.ubuntu.com\r\n\r\n"))
}

// TestAnnounceOverHTTP drives a fake tracker speaking the plain-TCP
// HTTP/1.0-style protocol: write the request, reply with a bencoded body
// behind ordinary HTTP headers, then close.
func TestAnnounceOverHTTP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	peerID, err := core.RandomPeerID()
	require.NoError(t, err)

	body, err := bencode.Marshal(bencode.Dictionary(
		bencode.DictEntry{Key: []byte("interval"), Value: bencode.Integer(10)},
		bencode.DictEntry{Key: []byte("complete"), Value: bencode.Integer(1)},
		bencode.DictEntry{Key: []byte("incomplete"), Value: bencode.Integer(2)},
		bencode.DictEntry{Key: []byte("peers"), Value: bencode.List(
			bencode.Dictionary(
				bencode.DictEntry{Key: []byte("ip"), Value: bencode.Str("10.0.0.5")},
				bencode.DictEntry{Key: []byte("port"), Value: bencode.Integer(6882)},
				bencode.DictEntry{Key: []byte("id"), Value: bencode.String(peerID.Bytes())},
			),
		)},
	))
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		require.True(t, strings.HasPrefix(string(buf[:n]), "GET /announce?"))

		resp := "HTTP/1.1 200 OK \r\nContent-Length:" + itoa(len(body)) + "\r\nContent-Type: text/plain\r\n\r\n" + string(body)
		conn.Write([]byte(resp))
	}()

	host, _, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	c := &Client{scheme: "http", host: host}

	// Dial the listener's actual ephemeral port directly: Announce itself
	// would dial the hardcoded tracker port 6969, which this test double
	// isn't bound to.
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	req := c.buildRequest(core.InfoHash{}, core.PeerID{}, 6881, 0, 0, 0, "started")
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	gotBody, err := readHTTPBody(conn)
	require.NoError(t, err)
	res, err := parseAnnounceResponse(gotBody)
	require.NoError(t, err)

	require.Equal(t, 10*time.Second, res.Interval)
	require.Equal(t, 1, res.Complete)
	require.Equal(t, 2, res.Incomplete)
	require.Len(t, res.Peers, 1)
	require.Equal(t, "10.0.0.5", res.Peers[0].IP)
	require.Equal(t, 6882, res.Peers[0].Port)
	require.Equal(t, peerID, res.Peers[0].PeerID)
}

// TestAnnounceOverLoopback drives a fake tracker speaking the custom
// single-read loopback protocol: the bencoded body must land on exactly
// the sixth \r\n-delimited line of one chunk.
func TestAnnounceOverLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	body, err := bencode.Marshal(bencode.Dictionary(
		bencode.DictEntry{Key: []byte("interval"), Value: bencode.Integer(10)},
		bencode.DictEntry{Key: []byte("complete"), Value: bencode.Integer(0)},
		bencode.DictEntry{Key: []byte("incomplete"), Value: bencode.Integer(1)},
		bencode.DictEntry{Key: []byte("peers"), Value: bencode.List()},
	))
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf)

		// Five throwaway header-like lines, then the body on line index 5.
		msg := "L0\r\nL1\r\nL2\r\nL3\r\nL4\r\n" + string(body)
		conn.Write([]byte(msg))
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// The fake tracker's goroutine blocks on its own conn.Read before
	// writing a response, so the client must write something first.
	_, err = conn.Write([]byte("announce"))
	require.NoError(t, err)

	gotBody, err := readLoopbackBody(conn)
	require.NoError(t, err)
	res, err := parseAnnounceResponse(gotBody)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, res.Interval)
	require.Equal(t, 1, res.Incomplete)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
