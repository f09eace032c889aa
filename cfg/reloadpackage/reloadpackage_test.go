// SPDX-License-Identifier: ice License 1.0

package reloadpackage

import (
	"os"
	"path/filepath"
	"testing"
	stdlibtime "time"

	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/icicle/cfg"
)

func TestOnChangeReloads(t *testing.T) {
	type testCfg struct {
		Timeout stdlibtime.Duration `mapstructure:"timeout"`
	}
	path := filepath.Join(t.TempDir(), "application.yaml")
	write := func(timeout string) {
		require.NoError(t, os.WriteFile(path, []byte("cfg/reloadpackage:\n  timeout: "+timeout+"\n"), 0o600))
	}
	write("1s")
	cfg.MustInit(path)
	require.Equal(t, stdlibtime.Second, cfg.MustGet[testCfg]().Timeout)

	changed := make(chan string, 100)
	cfg.OnChange(func(p string) { changed <- p })
	write("2s")
	select {
	case p := <-changed:
		require.Equal(t, path, p)
	case <-stdlibtime.After(5 * stdlibtime.Second):
		require.FailNow(t, "no change reported")
	}
	require.Eventually(t, func() bool {
		return cfg.MustGet[testCfg]().Timeout == 2*stdlibtime.Second
	}, 5*stdlibtime.Second, 10*stdlibtime.Millisecond)
}
