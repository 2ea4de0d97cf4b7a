package main

import (
	"fmt"
	"time"

	"github.com/arkade-os/cjd/internal/config"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"
)

const (
	urlFlagName        = "url"
	datadirFlagName    = "datadir"
	outpointFlagName   = "outpoint"
	roundIdFlagName    = "id"
	txidFlagName       = "txid"
	beforeDateFlagName = "before-date"
	afterDateFlagName  = "after-date"

	dateFormat = time.DateOnly
)

var (
	urlFlag = &cli.StringFlag{
		Name:  urlFlagName,
		Usage: "the url where to reach the coordinator admin api",
		Value: fmt.Sprintf("http://127.0.0.1:%d", config.DefaultAdminPort),
	}
	datadirFlag = &cli.StringFlag{
		Name:  datadirFlagName,
		Usage: "cjd datadir from where to source the TLS cert if needed",
		Value: btcutil.AppDataDir("cjd", false),
	}
	outpointFlag = &cli.StringFlag{
		Name:  outpointFlagName,
		Usage: "only list the bans of the given outpoint (txid:vout)",
	}
	roundIdFlag = &cli.StringFlag{
		Name:     roundIdFlagName,
		Usage:    "id of the round to get info",
		Required: true,
	}
	txidFlag = &cli.StringFlag{
		Name:     txidFlagName,
		Usage:    "txid of the archived transaction",
		Required: true,
	}
	beforeDateFlag = &cli.StringFlag{
		Name: beforeDateFlagName,
		Usage: fmt.Sprintf(
			"get ids of rounds before the give date, must be in %s format", dateFormat,
		),
	}
	afterDateFlag = &cli.StringFlag{
		Name: afterDateFlagName,
		Usage: fmt.Sprintf(
			"get ids of rounds after the give date, must be in %s format", dateFormat,
		),
	}
)
