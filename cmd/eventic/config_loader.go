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

package main

import (
	"fmt"
	"os"

	"github.com/kpekel-labs/eventic/pkg/config"
)

const defaultConfigFile = "eventic.yaml"

// resolveConfigType maps the --config-type flag (or its default) to the
// koanf-backed loader's provider enum.
func resolveConfigType(s string) (config.ConfigType, error) {
	if s == "" {
		return config.ConfigTypeFile, nil
	}
	return config.ParseConfigType(s)
}

// loadConfigFromArgs is the single path every subcommand uses to produce a
// processed, validated *config.Config: resolve the config path (explicit
// flag, else the default file if present, else built-in defaults), load it
// through the layered koanf provider, and run it through
// ProcessConfigPipeline.
func loadConfigFromArgs(cli *CLI) (*config.Config, error) {
	_ = config.LoadEnvFiles()

	path := cli.Config
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	if path == "" {
		cfg := &config.Config{}
		cfg.LLM.APIKey = config.GetProviderAPIKey("anthropic")
		if _, err := config.ProcessConfigPipeline(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	typ, err := resolveConfigType(cli.ConfigType)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(config.LoaderOptions{
		Type:  typ,
		Path:  path,
		Watch: cli.Watch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, nil
}
