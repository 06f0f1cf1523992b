package main

import (
	"fmt"
	"strconv"
)

const usage = `usage: gateway <configFile> [<logLevel>] [<firmwareVersion>]

  configFile       gateway configuration file (JSON, or YAML by extension)
  logLevel         log level name (default "info")
  firmwareVersion  version number this image reports (default 1)`

// cliArgs are the positional command line arguments. The version number is
// bumped and handed to the next image on self-install.
type cliArgs struct {
	configPath    string
	logLevel      string
	versionNumber int
}

func parseArgs(args []string) (cliArgs, error) {
	if len(args) < 1 || len(args) > 3 {
		return cliArgs{}, fmt.Errorf("expected 1 to 3 arguments, got %d", len(args))
	}
	parsed := cliArgs{configPath: args[0], logLevel: "info", versionNumber: 1}
	if len(args) > 1 {
		parsed.logLevel = args[1]
	}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return cliArgs{}, fmt.Errorf("firmware version %q: %w", args[2], err)
		}
		parsed.versionNumber = n
	}
	return parsed, nil
}

// version renders the version number in its wire form.
func (a cliArgs) version() string { return strconv.Itoa(a.versionNumber) + ".0.0" }
