// Copyright 2025 Kadir Pekel
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

// Command eventic is the CLI for the eventic agent-orchestration core.
//
// Usage:
//
//	eventic serve --config eventic.yaml
//	eventic validate --config eventic.yaml
//	eventic checkpoints list
//	eventic version
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve       ServeCmd       `cmd:"" help:"Run an interactive agent session."`
	Validate    ValidateCmd    `cmd:"" help:"Validate a configuration file."`
	Checkpoints CheckpointsCmd `cmd:"" help:"Inspect the on-disk checkpoint WAL."`
	Version     VersionCmd     `cmd:"" help:"Show version information."`

	Config     string `short:"c" help:"Path to config file." type:"path"`
	ConfigType string `name:"config-type" help:"Config backend: file, consul, etcd, zookeeper." default:"file"`
	Watch      bool   `help:"Watch the config source for changes and hot-reload."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd prints the build version, grounded on the teacher's
// debug.ReadBuildInfo()-backed reporting.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("eventic version %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("eventic"),
		kong.Description("Event-dispatched actor-critic agent orchestration core."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
