//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	systemd "github.com/coreos/go-systemd/daemon"

	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/collector"
	"github.com/cathay4t/peripetyd-go/config"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/cathay4t/peripetyd-go/journal"
	"github.com/cathay4t/peripetyd-go/orchestrator"
	"github.com/cathay4t/peripetyd-go/parser"
	"github.com/cathay4t/peripetyd-go/sysio"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	peripetyRunDir  = "/run/peripetyd"
	peripetyPidFile = peripetyRunDir + "/peripetyd.pid"
	defaultConfPath = "/etc/peripetyd.conf"
	kmsgPath        = "/dev/kmsg"
	usage           = `peripetyd storage-fault daemon

peripetyd tails /dev/kmsg, classifies kernel storage messages against a
regex catalog, enriches the matches with block-device topology, and
journals the result so prpt (and any other journal reader) can query it.
`
)

var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

func setupRunDir() error {
	if err := os.MkdirAll(peripetyRunDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %v", peripetyRunDir, err)
	}
	return nil
}

func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	var prof interface{ Stop() }

	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	if cpuProfOn {
		prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	if memProfOn {
		prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	return prof, nil
}

func loadConfOrDefault(path string) (config.Main, []domain.RegexConf) {
	main, catalog, err := config.Load(path)
	if err != nil {
		logrus.WithError(err).Warnf("using built-in catalog, config not usable at %s", path)
		return config.Main{}, collector.BuiltinCatalog()
	}
	return main, catalog
}

func main() {
	app := cli.NewApp()
	app.Name = "peripetyd"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Value: defaultConfPath,
			Usage: "configuration file path",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("peripetyd\n\tversion: \t%s\n\tcommit: \t%s\n\tbuilt at: \t%s\n\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	app.Before = func(ctx *cli.Context) error {
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				logrus.Fatalf("error opening log file %v: %v. Exiting ...", path, err)
				return err
			}
			logrus.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
		}

		if ctx.GlobalString("log-format") == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		}

		switch ctx.GlobalString("log-level") {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			logrus.SetLevel(logrus.InfoLevel)
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("Initiating peripetyd ...")

		if err := checkPidFile("peripetyd", peripetyPidFile); err != nil {
			return err
		}
		if err := setupRunDir(); err != nil {
			return err
		}

		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}

		confPath := ctx.GlobalString("config")
		mainConf, catalog := loadConfOrDefault(confPath)

		ios := sysio.NewIOService(domain.IOOsFileService)
		resolver := blkinfo.NewResolver(ios)

		source, err := collector.OpenKmsg(kmsgPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %v", kmsgPath, err)
		}
		coll := collector.New(hostname, source, catalog)

		stages := []parser.Stage{
			parser.NewMultipathStage(resolver),
			parser.NewScsiStage(resolver),
			parser.NewFilesystemStage(resolver),
		}

		sink := journal.NewSystemdSink()
		o := orchestrator.New(hostname, coll, stages, resolver, sink, os.Stdout, mainConf)

		prof, err := runProfiler(ctx)
		if err != nil {
			logrus.Fatal(err)
		}

		ctxRun, cancel := context.WithCancel(context.Background())

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

		go func() {
			for s := range sigChan {
				if s == syscall.SIGHUP {
					logrus.Info("Caught SIGHUP, reloading configuration")
					newMain, newCatalog := loadConfOrDefault(confPath)
					o.Reload(newMain, newCatalog)
					continue
				}

				logrus.Warnf("peripetyd caught signal: %s", s)
				logrus.Info("Stopping (gracefully) ...")
				systemd.SdNotify(false, systemd.SdNotifyStopping)
				if prof != nil {
					prof.Stop()
				}
				cancel()
				return
			}
		}()

		if err := createPidFile(peripetyPidFile); err != nil {
			return fmt.Errorf("failed to create peripetyd.pid file: %v", err)
		}
		defer func() {
			if err := destroyPidFile(peripetyPidFile); err != nil {
				logrus.Warnf("failed to destroy peripetyd pid file: %v", err)
			}
		}()

		systemd.SdNotify(false, systemd.SdNotifyReady)
		logrus.Info("Peripetyd: Ready!")

		err = o.Run(ctxRun)
		source.Close()
		if err != nil && ctxRun.Err() == nil {
			logrus.WithError(err).Error("peripetyd: collector stopped unexpectedly")
			return err
		}

		logrus.Info("Exiting ...")
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
