package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Settings are read from the `--config` file, then overridden by the command line options.
type Settings struct {
	ApiUrl           string        `yaml:"api_url"`
	RelayUrl         string        `yaml:"relay_url"`
	Jwt              string        `yaml:"jwt"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
}

func DefaultSettings() *Settings {
	return &Settings{
		ApiUrl:   DefaultApiUrl,
		RelayUrl: DefaultRelayUrl,
	}
}

func LoadSettings(opts docopt.Opts) (*Settings, error) {
	settings := DefaultSettings()

	if configPath, err := opts.String("--config"); err == nil && configPath != "" {
		configBytes, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := settings.Merge(configBytes); err != nil {
			return nil, fmt.Errorf("Bad config %s: %w", configPath, err)
		}
	}

	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		settings.ApiUrl = apiUrl
	}
	if relayUrl, err := opts.String("--relay_url"); err == nil && relayUrl != "" {
		settings.RelayUrl = relayUrl
	}
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		settings.Jwt = jwt
	}
	return settings, nil
}

// fields missing from the yaml keep their current values
func (self *Settings) Merge(configBytes []byte) error {
	return yaml.Unmarshal(configBytes, self)
}

// prompts for the jwt on the terminal if none was configured
func (self *Settings) RequireJwt() string {
	if self.Jwt != "" {
		return self.Jwt
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprintf(os.Stderr, "Missing --jwt.\n")
		os.Exit(1)
	}
	fmt.Print("Enter jwt: ")
	jwtBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		panic(err)
	}
	fmt.Printf("\n")
	self.Jwt = string(jwtBytes)
	return self.Jwt
}
