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
	"errors"
	"fmt"
)

// ErrInvalidSyntax is the sentinel wrapped by every SyntaxError. Callers
// that only care whether a decode failed due to malformed input, as opposed
// to an I/O error on the underlying reader, can match against it with
// errors.Is.
var ErrInvalidSyntax = errors.New("bencode: invalid syntax")

// SyntaxError reports a malformed bencode grammar production, along with
// the byte offset it was found at.
type SyntaxError struct {
	Offset int64
	What   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bencode: syntax error at offset %d: %s", e.Offset, e.What)
}

// Unwrap allows errors.Is(err, ErrInvalidSyntax) to succeed for any
// SyntaxError.
func (e *SyntaxError) Unwrap() error {
	return ErrInvalidSyntax
}

func syntaxErrorf(offset int64, format string, args ...interface{}) error {
	return &SyntaxError{Offset: offset, What: fmt.Sprintf(format, args...)}
}
