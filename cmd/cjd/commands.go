package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"
)

var (
	offendersCmd = &cli.Command{
		Name:   "offenders",
		Usage:  "List the banned inputs",
		Action: offendersAction,
		Flags:  []cli.Flag{urlFlag, datadirFlag, outpointFlag},
	}
	roundsCmd = &cli.Command{
		Name:   "rounds",
		Usage:  "List the ids of the rounds ended in the given time range",
		Action: roundsAction,
		Flags:  []cli.Flag{urlFlag, datadirFlag, afterDateFlag, beforeDateFlag},
	}
	roundCmd = &cli.Command{
		Name:   "round",
		Usage:  "Get the history of a round",
		Action: roundAction,
		Flags:  []cli.Flag{urlFlag, datadirFlag, roundIdFlag},
	}
	txCmd = &cli.Command{
		Name:   "tx",
		Usage:  "Get an archived coinjoin transaction",
		Action: txAction,
		Flags:  []cli.Flag{urlFlag, datadirFlag, txidFlag},
	}
)

func offendersAction(ctx *cli.Context) error {
	baseURL := adminURL(ctx)
	tlsConfig, err := getTLSConfigFromDatadir(ctx)
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf("%s/v1/admin/offenders", baseURL)
	if outpoint := ctx.String(outpointFlagName); outpoint != "" {
		reqURL = fmt.Sprintf("%s?outpoint=%s", reqURL, url.QueryEscape(outpoint))
	}

	offenders, err := get[[]any](reqURL, "offenders", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(offenders)
}

func roundsAction(ctx *cli.Context) error {
	baseURL := adminURL(ctx)
	tlsConfig, err := getTLSConfigFromDatadir(ctx)
	if err != nil {
		return err
	}

	query := url.Values{}
	if date := ctx.String(afterDateFlagName); date != "" {
		after, err := time.Parse(dateFormat, date)
		if err != nil {
			return fmt.Errorf("invalid --%s: %s", afterDateFlagName, err)
		}
		query.Set("after", fmt.Sprint(after.Unix()))
	}
	if date := ctx.String(beforeDateFlagName); date != "" {
		before, err := time.Parse(dateFormat, date)
		if err != nil {
			return fmt.Errorf("invalid --%s: %s", beforeDateFlagName, err)
		}
		query.Set("before", fmt.Sprint(before.Unix()))
	}

	reqURL := fmt.Sprintf("%s/v1/admin/rounds", baseURL)
	if len(query) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, query.Encode())
	}

	roundIds, err := get[[]string](reqURL, "round_ids", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(roundIds)
}

func roundAction(ctx *cli.Context) error {
	baseURL := adminURL(ctx)
	tlsConfig, err := getTLSConfigFromDatadir(ctx)
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf(
		"%s/v1/admin/rounds/%s/history", baseURL, url.PathEscape(ctx.String(roundIdFlagName)),
	)
	history, err := get[map[string]any](reqURL, "", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(history)
}

func txAction(ctx *cli.Context) error {
	baseURL := adminURL(ctx)
	tlsConfig, err := getTLSConfigFromDatadir(ctx)
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf(
		"%s/v1/admin/txs/%s", baseURL, url.PathEscape(ctx.String(txidFlagName)),
	)
	tx, err := get[map[string]any](reqURL, "", tlsConfig)
	if err != nil {
		return err
	}
	return printJSON(tx)
}

func printJSON(v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}
