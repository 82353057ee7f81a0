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
	"fmt"
	"strconv"
	"strings"

	"github.com/kadircet/bitswarm/core"
)

// announceRequest is a single announce query, parsed directly off the
// raw request line rather than through net/url: the wire format is a
// GET line whose query parameters are joined with '&', same as an
// ordinary URL query string, but the request arrives as one opaque read
// off a socket rather than through an HTTP server stack.
type announceRequest struct {
	infoHashURL string // the still-percent-encoded info hash, matched literally
	peerID      core.PeerID
	ip          string
	port        int
	uploaded    int64
	downloaded  int64
	left        int64
	compact     string
	event       string
}

// parseAnnounceRequest parses the query portion of a
// "GET /announce?info_hash=...&peer_id=...&... HTTP/1.0" line, grounded
// on TrackerTorrent/src/request.rs's parse_request: split on '&', the
// first segment additionally splits on '?' to isolate info_hash, and
// the event/ip values are space-split to drop the trailing " HTTP/1.0"
// that lands on whichever parameter happens to be last.
func parseAnnounceRequest(line string) (announceRequest, error) {
	segments := strings.Split(line, "&")
	if len(segments) == 0 {
		return announceRequest{}, fmt.Errorf("tracker: empty announce request")
	}

	qIdx := strings.Index(segments[0], "?")
	if qIdx < 0 {
		return announceRequest{}, fmt.Errorf("tracker: announce request missing query string")
	}
	key, value, ok := splitParam(segments[0][qIdx+1:])
	if !ok || key != "info_hash" {
		return announceRequest{}, fmt.Errorf("tracker: announce request missing info_hash")
	}

	req := announceRequest{infoHashURL: value}
	for _, seg := range segments[1:] {
		key, value, ok := splitParam(seg)
		if !ok {
			return announceRequest{}, fmt.Errorf("tracker: malformed parameter %q", seg)
		}
		switch key {
		case "peer_id":
			id, err := core.NewPeerIDFromBytes([]byte(value))
			if err != nil {
				return announceRequest{}, fmt.Errorf("tracker: invalid peer_id: %w", err)
			}
			req.peerID = id
		case "ip":
			req.ip = firstToken(value)
		case "port":
			n, err := strconv.Atoi(value)
			if err != nil {
				return announceRequest{}, fmt.Errorf("tracker: invalid port: %w", err)
			}
			req.port = n
		case "uploaded":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return announceRequest{}, fmt.Errorf("tracker: invalid uploaded: %w", err)
			}
			req.uploaded = n
		case "downloaded":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return announceRequest{}, fmt.Errorf("tracker: invalid downloaded: %w", err)
			}
			req.downloaded = n
		case "left":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return announceRequest{}, fmt.Errorf("tracker: invalid left: %w", err)
			}
			req.left = n
		case "compact":
			req.compact = value
		case "event":
			req.event = firstToken(value)
		default:
			return announceRequest{}, fmt.Errorf("tracker: unknown parameter %q", key)
		}
	}
	return req, nil
}

func splitParam(s string) (key, value string, ok bool) {
	i := strings.Index(s, "=")
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// firstToken drops everything from the first space onward, stripping a
// trailing " HTTP/1.0" off whichever parameter happens to be last on the
// request line.
func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
