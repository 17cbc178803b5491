// Copyright 2025 The darve-server Authors
// This file is part of darve-server.
//
// darve-server is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// darve-server is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with darve-server. If not, see <http://www.gnu.org/licenses/>.

// darve is the command-line entry point of the darve server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/darve-social/darve-server/node"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		Aliases: []string{"c"},
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP listen address",
	}
	dbURLFlag = &cli.StringFlag{
		Name:  "db.url",
		Usage: "postgres DSN (empty runs the in-memory store)",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "log level (debug, info, warn, error)",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "rotated log file (empty logs to stderr)",
	}
)

func main() {
	app := &cli.App{
		Name:   "darve",
		Usage:  "social task-reward platform server",
		Flags:  []cli.Flag{configFlag, httpAddrFlag, dbURLFlag, logLevelFlag, logFileFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// Local development keeps secrets in .env; absence is not an error.
	_ = godotenv.Load()

	cfg, err := node.LoadConfig(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if c.IsSet(httpAddrFlag.Name) {
		cfg.HTTPAddr = c.String(httpAddrFlag.Name)
	}
	if c.IsSet(dbURLFlag.Name) {
		cfg.DatabaseURL = c.String(dbURLFlag.Name)
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = c.String(logLevelFlag.Name)
	}
	if c.IsSet(logFileFlag.Name) {
		cfg.LogFile = c.String(logFileFlag.Name)
	}

	n, err := node.New(c.Context, cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logrus.Info("shutting down")
	return n.Stop()
}
