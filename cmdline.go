/*
 * Copyright 2025 Holger de Carne
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package fakeid

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/tdrn-org/fakeid/internal/buildinfo"
	"github.com/tdrn-org/go-conf"
	"github.com/tdrn-org/go-conf/service/loglevel"
)

var cmdLineVars = kong.Vars{
	"config_default": DefaultConfig,
}

type cmdLine struct {
	Silent     bool       `short:"s" help:"Enable silent mode (log level error)"`
	Quiet      bool       `short:"q" help:"Enable quiet mode (log level warn)"`
	Verbose    bool       `short:"v" help:"Enable verbose output (log level info)"`
	Debug      bool       `short:"d" help:"Enable debug output (log level debug)"`
	RunCmd     runCmd     `cmd:"" name:"run" default:"withargs" help:"Run provider"`
	VersionCmd versionCmd `cmd:"" name:"version" help:"Display version information"`
	ctx        context.Context
}

type runCmd struct {
	Config       string `short:"c" env:"FAKEID_CONFIG_LOCATION" help:"The configuration file to use" default:"${config_default}"`
	Address      string `short:"a" env:"FAKEID_ADDRESS" help:"The address to listen on"`
	Issuer       string `short:"i" env:"FAKEID_ISSUER" help:"The issuer URL to announce"`
	SigningAlg   string `env:"FAKEID_SIGNING_ALG,FAKEID_SIGNING_ALGORITHM" help:"The signing key algorithm"`
	SigningKey   string `env:"FAKEID_SIGNING_KEY" help:"The base64 encoded PEM signing key"`
	SampleClaims string `env:"FAKEID_SAMPLE_CLAIMS,FAKEID_SAMPLE_JWT" help:"The sample claims (JWT or base64 encoded JSON)"`
	Strict       bool   `help:"Reject unexpected configuration keys"`
}

func (cmd *runCmd) Run(args *cmdLine) error {
	config, err := cmd.loadConfig()
	if err != nil {
		return err
	}
	err = cmd.applyRunArgs(config)
	if err != nil {
		return err
	}
	cmd.applyGlobalArgs(config, args)
	cmd.initLogging(config)
	s, err := StartConfig(args.ctx, config)
	if err != nil {
		return err
	}
	s.WaitStopped()
	return nil
}

func (cmd *runCmd) loadConfig() (*Config, error) {
	return LoadConfig(strings.TrimSpace(cmd.Config), cmd.Strict)
}

func (cmd *runCmd) applyRunArgs(config *Config) error {
	if cmd.Address != "" {
		config.Server.Address = cmd.Address
	}
	if cmd.Issuer != "" {
		issuerURL, err := url.Parse(cmd.Issuer)
		if err != nil {
			return fmt.Errorf("invalid issuer URL '%s' (cause: %w)", cmd.Issuer, err)
		}
		config.Server.PublicURL = URLSpec{URL: *issuerURL}
	}
	if cmd.SigningAlg != "" {
		algorithm, err := ParseSigningKeyAlgorithm(cmd.SigningAlg)
		if err != nil {
			return err
		}
		config.OAuth2.SigningKeyAlgorithm = algorithm
	}
	if cmd.SigningKey != "" {
		config.OAuth2.SigningKey = cmd.SigningKey
	}
	if cmd.SampleClaims != "" {
		config.OAuth2.SampleClaims = cmd.SampleClaims
	}
	return nil
}

func (cmd *runCmd) applyGlobalArgs(config *Config, args *cmdLine) {
	if args.Debug {
		config.Logging.Level = slog.LevelDebug.String()
	} else if args.Verbose {
		config.Logging.Level = slog.LevelInfo.String()
	} else if args.Quiet {
		config.Logging.Level = slog.LevelWarn.String()
	} else if args.Silent {
		config.Logging.Level = slog.LevelError.String()
	}
}

func (cmd *runCmd) initLogging(config *Config) {
	logLevel, _ := conf.LookupService[loglevel.LogLevelService]()
	logger, _ := config.toLogConfig().GetLogger(logLevel.LevelVar())
	slog.SetDefault(logger)
}

type versionCmd struct {
	Extended bool `short:"x" help:"Include build details"`
}

func (cmd *versionCmd) Run(args *cmdLine) error {
	fmt.Println(buildinfo.FullVersion())
	if cmd.Extended {
		fmt.Println(buildinfo.Extended())
	}
	return nil
}
