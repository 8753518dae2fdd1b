package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/dcurling/matchserver/server"
)

// Version is populated via build flags when packaging release binaries.
var Version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "matchserver"
	app.Usage = "digital curling match server"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,C",
			Value: "config.json",
			Usage: "config json file path",
		},
		cli.StringFlag{
			Name:  "config-json",
			Usage: "inline config json instead of a config file",
		},
		cli.StringFlag{
			Name:  "log-dir",
			Value: "log",
			Usage: "directory the run and game logs are written under",
		},
		cli.BoolFlag{
			Name:  "verbose,v",
			Usage: "mirror full log records to the console",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "print debug messages to the console",
		},
	}
	app.Action = run

	// Failures are reported through the logs and the process always
	// exits clean, so a supervising tournament script never trips on it.
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "exception: %v\n", err)
	}
}

func run(c *cli.Context) error {
	launchTime := time.Now()
	gameID := uuid.New().String()

	if c.IsSet("config") && c.IsSet("config-json") {
		return errors.New(`specify only one of "config" and "config-json"`)
	}

	matchDirName := fmt.Sprintf("%s_%s", server.ISO8601Basic(launchTime), gameID)
	logger, err := server.NewLog(c.String("log-dir"), matchDirName, c.Bool("verbose"), c.Bool("debug"))
	if err != nil {
		return err
	}
	defer logger.Close()

	if err := serve(c, logger, launchTime, gameID); err != nil {
		logger.Errorf("exception: %v", err)
	}
	return nil
}

func serve(c *cli.Context, logger *server.Log, launchTime time.Time, gameID string) error {
	logger.Infof("digital curling match server ver.%s", Version)
	logger.Debugf("debug: %s", onOff(c.Bool("debug")))
	logger.Debugf("verbose: %s", onOff(c.Bool("verbose")))

	var config *server.Config
	if c.IsSet("config-json") {
		logger.Debug("config: (inline)")
		logger.Info("config file   : (inline)")
		var err error
		config, err = server.ParseConfig([]byte(c.String("config-json")))
		if err != nil {
			return err
		}
	} else {
		path := c.String("config")
		if c.IsSet("config") {
			logger.Debugf("config: %q", path)
		} else {
			logger.Debug("config: (none)")
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		logger.Infof("config file   : %q", path)
		var err error
		config, err = server.LoadConfig(path)
		if err != nil {
			return err
		}
	}

	matchDir := logger.MatchDir()
	if abs, err := filepath.Abs(matchDir); err == nil {
		matchDir = abs
	}
	logger.Infof("log directory : %q", matchDir)

	logger.Infof("launch time: %s", server.ISO8601Extended(launchTime))
	logger.Infof("game id    : %s", gameID)
	for team := 0; team < 2; team++ {
		logger.Infof("team %d port: %d", team, config.Server.Port[team])
	}
	logger.Info("Note: Team 1 has the last stone in the first end.")

	srv, err := server.NewServer(config, server.ISO8601Extended(launchTime), gameID, logger)
	if err != nil {
		return err
	}

	logger.Info("server started")
	srv.Run()

	logger.Info("server terminated successfully")
	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
