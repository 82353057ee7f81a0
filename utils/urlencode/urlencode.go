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

// Package urlencode implements the exact percent-encoding scheme the
// tracker announce protocol uses for binary query parameters
// (info_hash, peer_id): unreserved bytes pass through literally, every
// other byte becomes a %XX escape. Both trackerclient (building announce
// requests) and tracker (matching a torrent by its pre-encoded info
// hash) need the identical encoding, so it lives here rather than in
// either package.
package urlencode

import "strings"

const hextable = "0123456789abcdef"

// Encode percent-encodes b: unreserved bytes ([A-Za-z0-9-_.~]) pass
// through with their original case intact, every other byte becomes a
// lowercase-hex %XX escape.
func Encode(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hextable[c>>4])
		sb.WriteByte(hextable[c&0x0f])
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}
