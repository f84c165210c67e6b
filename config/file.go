package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout of a config file.  Pointer fields tell
// an absent key from a zero value.
type fileConfig struct {
	CommandServer *string `yaml:"command_server"`
	Username      *string `yaml:"username"`
	Password      *string `yaml:"password"`
	Tag           *string `yaml:"tag"`
	StartAttempts *int    `yaml:"start_attempts"`

	TCP     *string `yaml:"tcp"`
	UDP     *string `yaml:"udp"`
	Timeout *int    `yaml:"timeout"` // milliseconds
	Tick    *int    `yaml:"tick"`    // milliseconds
	NoDNS   *bool   `yaml:"no_dns"`

	Tunnel *struct {
		Spec          *string `yaml:"spec"`
		Key           *string `yaml:"key"`
		Password      *bool   `yaml:"password"`
		Agent         *bool   `yaml:"agent"`
		StrictHostKey *bool   `yaml:"strict_hostkey"`
		KnownHosts    *string `yaml:"known_hosts"`
	} `yaml:"tunnel"`

	Verbose *int    `yaml:"verbose"`
	Format  *string `yaml:"format"`
}

// LoadFile overlays the YAML file at path onto cfg.  Unknown keys are
// an error so typos do not go unnoticed.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&cfg.CommandServer, fc.CommandServer)
	setString(&cfg.Username, fc.Username)
	setString(&cfg.Password, fc.Password)
	setString(&cfg.Tag, fc.Tag)
	if fc.StartAttempts != nil {
		cfg.StartAttempts = *fc.StartAttempts
	}

	setString(&cfg.TCPSpec, fc.TCP)
	setString(&cfg.UDPSpec, fc.UDP)
	if fc.Timeout != nil {
		cfg.Timeout = millis(*fc.Timeout)
	}
	if fc.Tick != nil {
		cfg.TickInterval = millis(*fc.Tick)
	}
	setBool(&cfg.NoDNS, fc.NoDNS)

	if t := fc.Tunnel; t != nil {
		setString(&cfg.TunnelSpec, t.Spec)
		setString(&cfg.SSHKeyPath, t.Key)
		setBool(&cfg.SSHPassword, t.Password)
		setBool(&cfg.UseSSHAgent, t.Agent)
		setBool(&cfg.StrictHostKey, t.StrictHostKey)
		setString(&cfg.KnownHostsPath, t.KnownHosts)
	}

	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	setString(&cfg.Format, fc.Format)

	cfg.ConfigFile = path
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
