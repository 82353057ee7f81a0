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

// Package configuration reads the client and tracker startup files
// described in spec section 6: a newline-delimited "key:value" client
// configuration, and a newline-delimited list of .torrent paths the
// tracker serves.
package configuration

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ErrOpenFile is returned when a configuration file cannot be opened.
var ErrOpenFile = fmt.Errorf("configuration: open file")

// ErrReadFile is returned when a configuration file cannot be fully read.
var ErrReadFile = fmt.Errorf("configuration: read file")

// ErrMissingField is returned when a client configuration file has fewer
// than the three required lines.
var ErrMissingField = fmt.Errorf("configuration: missing required field")

// ClientConfig is the parsed contents of a client configuration file: a
// newline-delimited "key:value" file whose first three lines name the
// peer-wire listen port, the log file path, and the downloads directory,
// in that order. Lines beyond the third are ignored, matching the
// reference client's read_configuration_file, which only ever consults
// config_parameters[0..2].
type ClientConfig struct {
	PortToPeers string
	LogPath     string
	DownloadDir string
}

// LoadClientConfig reads and parses the client configuration file at path.
func LoadClientConfig(path string) (ClientConfig, error) {
	lines, err := readLines(path)
	if err != nil {
		return ClientConfig{}, err
	}
	if len(lines) < 3 {
		return ClientConfig{}, fmt.Errorf("%w: expected at least 3 lines, got %d", ErrMissingField, len(lines))
	}
	return ClientConfig{
		PortToPeers: lines[0],
		LogPath:     lines[1],
		DownloadDir: lines[2],
	}, nil
}

// LoadTrackerTorrentPaths reads a tracker configuration file: one
// .torrent file path per line, blank lines ignored.
func LoadTrackerTorrentPaths(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOpenFile, err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadFile, err)
	}
	return paths, nil
}

// readLines parses the first three non-blank lines of path as
// "key:value", keeping only the value -- the part after the first colon --
// mirroring read_configuration_file's split(':').collect()[1] behavior.
// Lines after the third are not read.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOpenFile, err)
	}
	defer f.Close()

	var values []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: line %q has no \":\" separator", ErrReadFile, line)
		}
		values = append(values, strings.TrimSpace(parts[1]))
		if len(values) == 3 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadFile, err)
	}
	return values, nil
}
