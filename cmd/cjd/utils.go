package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	timeout     = 10 * time.Second
	tlsDir      = "tls"
	tlsCertFile = "cert.pem"
)

// adminURL prefers the --url flag, then CJD_URL, then the flag default.
func adminURL(ctx *cli.Context) string {
	if ctx.IsSet(urlFlagName) {
		return strings.TrimRight(ctx.String(urlFlagName), "/")
	}
	if url := viper.GetString(urlFlagName); url != "" {
		return strings.TrimRight(url, "/")
	}
	return strings.TrimRight(ctx.String(urlFlagName), "/")
}

func getTLSConfigFromDatadir(ctx *cli.Context) (*tls.Config, error) {
	if strings.HasPrefix(adminURL(ctx), "http://") {
		return nil, nil
	}

	datadir := ctx.String(datadirFlagName)
	if !ctx.IsSet(datadirFlagName) {
		if dir := viper.GetString(datadirFlagName); dir != "" {
			datadir = dir
		}
	}

	tlsCertPath := filepath.Join(datadir, tlsDir, tlsCertFile)
	if _, err := os.Stat(tlsCertPath); err != nil {
		return nil, nil
	}

	tlsConfig, err := getTLSConfig(tlsCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get tls config: %s", err)
	}
	return tlsConfig, nil
}

// get fetches url and returns the value of key in the JSON response, or the
// whole response if key is empty.
func get[T any](url, key string, tlsConfig *tls.Config) (result T, err error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return
	}
	req.Header.Add("Content-Type", "application/json")

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("failed to get: %s", string(buf))
		return
	}

	if key == "" {
		var res T
		if err = json.Unmarshal(buf, &res); err != nil {
			return
		}
		result = res
		return
	}

	res := make(map[string]T)
	if err = json.Unmarshal(buf, &res); err != nil {
		return
	}

	result = res[key]
	return
}

func getTLSConfig(path string) (*tls.Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(buf); !ok {
		return nil, fmt.Errorf("failed to parse tls cert")
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    caCertPool,
	}, nil
}
