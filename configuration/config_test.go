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
package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "configuration_file")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadClientConfigReadsFirstThreeLines(t *testing.T) {
	require := require.New(t)

	path := writeTempFile(t, "port_to_peers:6881\nlog_path:./logs/client.log\ndownloads_path:./downloads\nextra:ignored\n")
	cfg, err := LoadClientConfig(path)
	require.NoError(err)
	require.Equal(ClientConfig{
		PortToPeers: "6881",
		LogPath:     "./logs/client.log",
		DownloadDir: "./downloads",
	}, cfg)
}

func TestLoadClientConfigTrimsWhitespaceAfterColon(t *testing.T) {
	require := require.New(t)

	path := writeTempFile(t, "port: 6881\nlog:  ./logs/client.log\ndownloads: ./downloads\n")
	cfg, err := LoadClientConfig(path)
	require.NoError(err)
	require.Equal("6881", cfg.PortToPeers)
	require.Equal("./logs/client.log", cfg.LogPath)
	require.Equal("./downloads", cfg.DownloadDir)
}

func TestLoadClientConfigFailsWithFewerThanThreeLines(t *testing.T) {
	require := require.New(t)

	path := writeTempFile(t, "port:6881\nlog:./logs/client.log\n")
	_, err := LoadClientConfig(path)
	require.ErrorIs(err, ErrMissingField)
}

func TestLoadClientConfigFailsOnMissingFile(t *testing.T) {
	require := require.New(t)

	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	require.ErrorIs(err, ErrOpenFile)
}

func TestLoadClientConfigFailsWithoutColon(t *testing.T) {
	require := require.New(t)

	path := writeTempFile(t, "no-colon-here\n")
	_, err := LoadClientConfig(path)
	require.ErrorIs(err, ErrReadFile)
}

func TestLoadTrackerTorrentPathsSkipsBlankLines(t *testing.T) {
	require := require.New(t)

	path := writeTempFile(t, "./torrents/a.torrent\n\n./torrents/b.torrent\n")
	paths, err := LoadTrackerTorrentPaths(path)
	require.NoError(err)
	require.Equal([]string{"./torrents/a.torrent", "./torrents/b.torrent"}, paths)
}

func TestLoadTrackerTorrentPathsFailsOnMissingFile(t *testing.T) {
	require := require.New(t)

	_, err := LoadTrackerTorrentPaths(filepath.Join(t.TempDir(), "does-not-exist"))
	require.ErrorIs(err, ErrOpenFile)
}
