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

// Package bencode implements the bencoding serialization format used by the
// BitTorrent peer wire and tracker protocols: integers, byte strings, lists
// and dictionaries, encoded and decoded as an explicit Value tree rather than
// through reflection onto Go structs. A tree representation is required
// because dictionary key order must survive a decode/encode round trip
// byte-for-byte -- info-hash computation depends on it -- and reflection onto
// a struct cannot preserve key order that the struct's field order doesn't
// already match.
package bencode

import "fmt"

// Kind identifies which bencode grammar production a Value holds.
type Kind int

const (
	// KindInteger is a signed integer: i<digits>e.
	KindInteger Kind = iota
	// KindString is a length-prefixed byte string: <len>:<bytes>.
	KindString
	// KindList is an ordered sequence of values: l<items>e.
	KindList
	// KindDictionary is an ordered sequence of key/value pairs: d<pairs>e.
	KindDictionary
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDictionary:
		return "dictionary"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DictEntry is a single key/value pair within a Dictionary, in the position
// it was decoded at (or inserted at, for a hand-built Value).
type DictEntry struct {
	Key   []byte
	Value Value
}

// Value is a single bencoded value. The zero Value is an integer 0; use the
// constructors below to build strings, lists and dictionaries.
type Value struct {
	kind    Kind
	integer int64
	str     []byte
	list    []Value
	dict    []DictEntry
}

// Integer returns a Value wrapping the signed integer n.
func Integer(n int64) Value {
	return Value{kind: KindInteger, integer: n}
}

// String returns a Value wrapping the byte string b. b is not copied.
func String(b []byte) Value {
	return Value{kind: KindString, str: b}
}

// Str is a convenience wrapper over String for Go string literals.
func Str(s string) Value {
	return String([]byte(s))
}

// List returns a Value wrapping the ordered sequence of items.
func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

// Dictionary returns a Value wrapping the ordered sequence of entries.
// Callers are responsible for insertion order; duplicate keys are preserved
// as given, matching how a decoder would see them on the wire.
func Dictionary(entries ...DictEntry) Value {
	return Value{kind: KindDictionary, dict: entries}
}

// Kind reports which grammar production v holds.
func (v Value) Kind() Kind {
	return v.kind
}

// Int returns v's integer value. ok is false if v is not an integer.
func (v Value) Int() (n int64, ok bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.integer, true
}

// Bytes returns v's byte string. ok is false if v is not a string.
func (v Value) Bytes() (b []byte, ok bool) {
	if v.kind != KindString {
		return nil, false
	}
	return v.str, true
}

// Text is a convenience wrapper over Bytes, decoding the result as a Go
// string.
func (v Value) Text() (s string, ok bool) {
	b, ok := v.Bytes()
	if !ok {
		return "", false
	}
	return string(b), true
}

// List returns v's ordered items. ok is false if v is not a list.
func (v Value) List() (items []Value, ok bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Dict returns v's ordered entries. ok is false if v is not a dictionary.
func (v Value) Dict() (entries []DictEntry, ok bool) {
	if v.kind != KindDictionary {
		return nil, false
	}
	return v.dict, true
}

// DictGet looks up key within v's dictionary entries, in order, returning
// the first match. ok is false if v is not a dictionary or key is absent.
func (v Value) DictGet(key string) (val Value, ok bool) {
	if v.kind != KindDictionary {
		return Value{}, false
	}
	for _, e := range v.dict {
		if string(e.Key) == key {
			return e.Value, true
		}
	}
	return Value{}, false
}
