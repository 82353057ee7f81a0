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
package bencode

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

// Encoder writes Value trees to an output stream in canonical bencode form.
// Encoding never reorders dictionary entries: callers that built a Value
// from a Decoder get back the exact bytes they started with, which is what
// lets info-hash computation round-trip through this package instead of
// needing to retain the original raw bytes of a torrent's info dictionary.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes v and flushes the underlying writer.
func (e *Encoder) Encode(v Value) error {
	if err := e.encodeValue(v); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Encoder) encodeValue(v Value) error {
	switch v.kind {
	case KindInteger:
		return e.encodeInteger(v.integer)
	case KindString:
		return e.encodeString(v.str)
	case KindList:
		return e.encodeList(v.list)
	case KindDictionary:
		return e.encodeDictionary(v.dict)
	default:
		return syntaxErrorf(0, "unknown value kind %d", int(v.kind))
	}
}

func (e *Encoder) encodeInteger(n int64) error {
	if _, err := e.w.WriteString("i"); err != nil {
		return err
	}
	if _, err := e.w.WriteString(strconv.FormatInt(n, 10)); err != nil {
		return err
	}
	_, err := e.w.WriteString("e")
	return err
}

func (e *Encoder) encodeString(b []byte) error {
	if _, err := e.w.WriteString(strconv.Itoa(len(b))); err != nil {
		return err
	}
	if _, err := e.w.WriteString(":"); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) encodeList(items []Value) error {
	if _, err := e.w.WriteString("l"); err != nil {
		return err
	}
	for _, v := range items {
		if err := e.encodeValue(v); err != nil {
			return err
		}
	}
	_, err := e.w.WriteString("e")
	return err
}

func (e *Encoder) encodeDictionary(entries []DictEntry) error {
	if _, err := e.w.WriteString("d"); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := e.encodeString(entry.Key); err != nil {
			return err
		}
		if err := e.encodeValue(entry.Value); err != nil {
			return err
		}
	}
	_, err := e.w.WriteString("e")
	return err
}

// Marshal encodes v into its canonical bencode byte representation.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
