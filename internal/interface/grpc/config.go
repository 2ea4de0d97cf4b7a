package grpcservice

import (
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"
)

type Config struct {
	Datadir     string
	Port        uint32
	AdminPort   uint32
	NoTLS       bool
	EnablePprof bool
}

func (c Config) Validate() error {
	lis, err := net.Listen("tcp", c.address())
	if err != nil {
		return fmt.Errorf("invalid port: %s", err)
	}
	// nolint:errcheck
	lis.Close()

	if !c.hasAdminPort() {
		return fmt.Errorf("admin port must be set and differ from the service port")
	}
	lis, err = net.Listen("tcp", c.adminAddress())
	if err != nil {
		return fmt.Errorf("invalid admin port: %s", err)
	}
	// nolint:errcheck
	lis.Close()

	if !c.NoTLS {
		if _, err := c.tlsConfig(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) insecure() bool {
	return c.NoTLS
}

func (c Config) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) adminAddress() string {
	return fmt.Sprintf(":%d", c.AdminPort)
}

func (c Config) hasAdminPort() bool {
	return c.AdminPort > 0 && c.AdminPort != c.Port
}

func (c Config) gatewayAddress() string {
	return fmt.Sprintf("localhost:%d", c.Port)
}

func (c Config) tlsDatadir() string {
	return filepath.Join(c.Datadir, tlsFolder)
}

func (c Config) tlsConfig() (*tls.Config, error) {
	if c.insecure() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(c.tlsDatadir(), tlsCertFile),
		filepath.Join(c.tlsDatadir(), tlsKeyFile),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair from %s: %s", c.tlsDatadir(), err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
	}, nil
}
