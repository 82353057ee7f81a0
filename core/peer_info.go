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
package core

import (
	"net"
	"strconv"
)

// PeerInfo is the minimal addressing information a tracker hands out and a
// client dials: who to connect to for a given torrent.
type PeerInfo struct {
	PeerID PeerID
	IP     string
	Port   int
}

// NewPeerInfo creates a new PeerInfo.
func NewPeerInfo(peerID PeerID, ip string, port int) *PeerInfo {
	return &PeerInfo{PeerID: peerID, IP: ip, Port: port}
}

// Addr returns the "ip:port" dial address for p.
func (p *PeerInfo) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}
