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
package tracker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadircet/bitswarm/bencode"
)

// announceInterval is the fixed interval (in seconds) a tracker tells
// every peer to wait between announces, matching
// TrackerTorrent/src/response.rs's constant INTERVAL.
const announceInterval = 10

// announceResponse is the bencoded body of a successful /announce reply.
type announceResponse struct {
	complete   int
	incomplete int
	peers      []peerDict
}

type peerDict struct {
	ip     string
	port   int
	id     string
	withID bool
}

func (r announceResponse) bencode() bencode.Value {
	peerValues := make([]bencode.Value, len(r.peers))
	for i, p := range r.peers {
		entries := []bencode.DictEntry{
			{Key: []byte("ip"), Value: bencode.Str(p.ip)},
			{Key: []byte("port"), Value: bencode.Integer(int64(p.port))},
		}
		if p.withID {
			entries = append(entries, bencode.DictEntry{Key: []byte("id"), Value: bencode.Str(p.id)})
		}
		peerValues[i] = bencode.Dictionary(entries...)
	}
	return bencode.Dictionary(
		bencode.DictEntry{Key: []byte("complete"), Value: bencode.Integer(int64(r.complete))},
		bencode.DictEntry{Key: []byte("incomplete"), Value: bencode.Integer(int64(r.incomplete))},
		bencode.DictEntry{Key: []byte("interval"), Value: bencode.Integer(announceInterval)},
		bencode.DictEntry{Key: []byte("peers"), Value: bencode.List(peerValues...)},
	)
}

// httpMessage wraps a bencoded announce response in the same
// header/body shape the reference tracker writes, per
// TrackerTorrent/src/response.rs's make_message.
func (r announceResponse) httpMessage() ([]byte, error) {
	body, err := bencode.Marshal(r.bencode())
	if err != nil {
		return nil, fmt.Errorf("tracker: encode announce response: %w", err)
	}
	msg := fmt.Sprintf(
		"HTTP/1.1 200 OK \r\nHost: 127.0.0.1:8080\r\nContent-Length:%d\r\nContent-Type: text/plain\r\n\r\n%s",
		len(body), body,
	)
	return []byte(msg), nil
}

// statsInfo is one peer's row in the /stats response, naming the torrent
// that peer announced for.
type statsInfo struct {
	ID              string `json:"id"`
	TimeLastRequest int64  `json:"time_last_request"`
	Completed       bool   `json:"completed"`
	Torrent         string `json:"torrent"`
}

// statsResponse is the JSON body of a /stats reply.
type statsResponse struct {
	Peers    int         `json:"cant_peers"`
	Seeders  int         `json:"cant_seeders"`
	Torrents int         `json:"cant_torrents"`
	Info     []statsInfo `json:"info"`
}

func newStatsResponse(peers, seeders, torrents int, info []statsInfo) statsResponse {
	if info == nil {
		info = []statsInfo{}
	}
	return statsResponse{Peers: peers, Seeders: seeders, Torrents: torrents, Info: info}
}

// httpMessage wraps the JSON stats payload in the header shape
// ConnectionState::handle_stats writes, including the CORS header the
// reference tracker's web UI depends on.
func (r statsResponse) httpMessage() ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("tracker: encode stats response: %w", err)
	}
	msg := fmt.Sprintf(
		"HTTP/1.1 200 OK \r\nContent-Length:%d\r\nContent-Type: application/json\r\nAccess-Control-Allow-Origin: *\r\n\r\n%s",
		len(body), body,
	)
	return []byte(msg), nil
}

// badRequestMessage is the raw bytes written for any request this
// tracker can't parse or route.
const badRequestMessage = "HTTP/1.1 400 Bad Request \r\n"

func epochSeconds(t time.Time) int64 {
	return t.Unix()
}
