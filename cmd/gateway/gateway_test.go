package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want cliArgs
		fail bool
	}{
		{
			name: "config only",
			args: []string{"gw.json"},
			want: cliArgs{configPath: "gw.json", logLevel: "info", versionNumber: 1},
		},
		{
			name: "config and log level",
			args: []string{"gw.json", "debug"},
			want: cliArgs{configPath: "gw.json", logLevel: "debug", versionNumber: 1},
		},
		{
			name: "all arguments",
			args: []string{"gw.yaml", "warn", "4"},
			want: cliArgs{configPath: "gw.yaml", logLevel: "warn", versionNumber: 4},
		},
		{name: "no arguments", fail: true},
		{name: "too many arguments", args: []string{"a", "b", "c", "d"}, fail: true},
		{name: "version not a number", args: []string{"gw.json", "info", "latest"}, fail: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := parseArgs(test.args)
			if test.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

func TestVersionWireForm(t *testing.T) {
	require.Equal(t, "3.0.0", cliArgs{versionNumber: 3}.version())
}

func TestInstallerArgv(t *testing.T) {
	inst := &selfInstaller{configPath: "gw.json", logLevel: "debug", versionNumber: 3}
	require.Equal(t, []string{"/tmp/fw.img", "gw.json", "debug", "4"}, inst.argv("/tmp/fw.img"))
}

func TestRunRejectsBadInvocation(t *testing.T) {
	require.Equal(t, -1, run(nil))
	require.Equal(t, -1, run([]string{"does-not-exist.json"}))
}
