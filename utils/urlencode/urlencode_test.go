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
package urlencode

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSHA1OfHelloWorld(t *testing.T) {
	sum := sha1.Sum([]byte("hello world"))
	require.Equal(t, "%2a%ael5%c9O%cf%b4%15%db%e9_%40%8b%9c%e9%1e%e8F%ed", Encode(sum[:]))
}

func TestEncodeUnreservedPassesThroughWithCase(t *testing.T) {
	require.Equal(t, "abcXYZ012-_.~", Encode([]byte("abcXYZ012-_.~")))
}

func TestEncodeEmpty(t *testing.T) {
	require.Equal(t, "", Encode(nil))
}
