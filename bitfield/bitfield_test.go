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
package bitfield

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddSetsMSBFirst(t *testing.T) {
	require := require.New(t)

	bf := New(9)
	changed, err := bf.Add(0)
	require.NoError(err)
	require.True(changed)

	changed, err = bf.Add(8)
	require.NoError(err)
	require.True(changed)

	require.Equal([]byte{0x80, 0x80}, bf.AsBytes())
}

func TestAddIsIdempotent(t *testing.T) {
	require := require.New(t)

	bf := New(4)
	changed, err := bf.Add(2)
	require.NoError(err)
	require.True(changed)

	changed, err = bf.Add(2)
	require.NoError(err)
	require.False(changed)
}

func TestRemoveIsIdempotent(t *testing.T) {
	require := require.New(t)

	bf := New(4)
	_, _ = bf.Add(1)

	changed, err := bf.Remove(1)
	require.NoError(err)
	require.True(changed)

	changed, err = bf.Remove(1)
	require.NoError(err)
	require.False(changed)
}

func TestHasOutOfRange(t *testing.T) {
	bf := New(4)
	_, err := bf.Has(4)
	require.Error(t, err)
	var posErr *ErrInvalidPosition
	require.ErrorAs(t, err, &posErr)
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, err := FromBytes([]byte{0x00}, 9)
	require.Error(t, err)
}

func TestCountAndComplete(t *testing.T) {
	require := require.New(t)

	bf := New(3)
	require.False(bf.Complete())
	_, _ = bf.Add(0)
	_, _ = bf.Add(1)
	_, _ = bf.Add(2)
	require.Equal(3, bf.Count())
	require.True(bf.Complete())
}

func TestFromBytesRoundTrip(t *testing.T) {
	require := require.New(t)

	raw := []byte{0b10110000}
	bf, err := FromBytes(raw, 5)
	require.NoError(err)

	has, _ := bf.Has(0)
	require.True(has)
	has, _ = bf.Has(1)
	require.False(has)
	has, _ = bf.Has(2)
	require.True(has)
	has, _ = bf.Has(3)
	require.True(has)
	has, _ = bf.Has(4)
	require.False(has)
}

func TestCloneIsIndependent(t *testing.T) {
	require := require.New(t)

	bf := New(8)
	_, _ = bf.Add(0)

	clone := bf.Clone()
	_, _ = clone.Add(1)

	has, _ := bf.Has(1)
	require.False(has)
	has, _ = clone.Has(1)
	require.True(has)
}
