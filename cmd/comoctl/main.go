// Command comoctl is an HTTP client for the QUERY interface spec.md §6
// describes (/status, /services/<name>, /<module>?...), built on
// github.com/urfave/cli the way the teacher's own cmd/cli wraps its
// cluster API behind subcommands.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "comoctl"
	app.Usage = "query a running comosupervisor node"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: "http://localhost:12345", Usage: "query server base URL"},
		cli.StringFlag{Name: "token", Usage: "bearer token, if the node requires auth"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "status",
			Usage: "print the node's active modules",
			Action: func(c *cli.Context) error {
				return fetch(c, "/status", nil)
			},
		},
		{
			Name:      "query",
			Usage:     "query a module's records",
			ArgsUsage: "<module>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "filter", Usage: "filter expression"},
				cli.StringFlag{Name: "format", Usage: "output format"},
				cli.StringFlag{Name: "time", Usage: "time expression, e.g. -300:0"},
				cli.StringFlag{Name: "start", Usage: "start timestamp"},
				cli.StringFlag{Name: "end", Usage: "end timestamp"},
				cli.StringFlag{Name: "source", Usage: "replay source module"},
				cli.BoolFlag{Name: "no-wait", Usage: "don't block for new records"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					return cli.NewExitError("query requires a module name", 1)
				}
				args := url.Values{}
				for _, k := range []string{"filter", "format", "time", "start", "end", "source"} {
					if v := c.String(k); v != "" {
						args.Set(k, v)
					}
				}
				if c.Bool("no-wait") {
					args.Set("wait", "no")
				}
				return fetch(c, "/"+c.Args().Get(0), args)
			},
		},
		{
			Name:      "service",
			Usage:     "call a named machine-readable service endpoint",
			ArgsUsage: "<name>",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					return cli.NewExitError("service requires a name", 1)
				}
				return fetch(c, "/services/"+c.Args().Get(0), nil)
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fetch(c *cli.Context, path string, query url.Values) error {
	u := c.GlobalString("addr") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if tok := c.GlobalString("token"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return cli.NewExitError(fmt.Sprintf("%s: %s", resp.Status, body), 1)
	}
	os.Stdout.Write(body)
	return nil
}
