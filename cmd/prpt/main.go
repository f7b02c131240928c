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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/cathay4t/peripetyd-go/journal"
	"github.com/cathay4t/peripetyd-go/sysio"
	"github.com/urfave/cli"
)

func quitWithMsg(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	os.Exit(1)
}

// cliFilter is built once per invocation from the shared flag set common
// to `monitor` and `query`.
type cliFilter struct {
	journal.Filter
	blk string
}

func filterFromCtx(c *cli.Context) cliFilter {
	f := cliFilter{}

	if s := c.String("severity"); s != "" {
		sev, err := domain.ParseLogSeverity(s)
		if err != nil {
			quitWithMsg(err.Error())
		}
		f.Severity = sev
		f.HasSeverity = true
	}

	if subs := c.StringSlice("sub-system"); len(subs) > 0 {
		// Only the first is honored: the journal filter narrows on one
		// subsystem, matching the common single-value case; repeated
		// --sub-system beyond the first is intentionally not supported
		// here (the reader has no OR-match primitive to build on).
		sub, err := domain.ParseStorageSubSystem(subs[0])
		if err != nil {
			quitWithMsg(err.Error())
		}
		f.SubSystem = sub
		f.HasSubSystem = true
	}

	if ets := c.StringSlice("event-type"); len(ets) > 0 {
		f.EventType = ets[0]
	}

	f.blk = c.String("blk")

	return f
}

func (f cliFilter) matches(ev domain.StorageEvent) bool {
	if !f.Filter.Matches(ev) {
		return false
	}
	if f.blk == "" {
		return true
	}
	if ev.BlkInfo.Wwid == f.blk {
		return true
	}
	for _, w := range ev.BlkInfo.OwnerWwids() {
		if w == f.blk {
			return true
		}
	}
	return false
}

func printEvent(ev domain.StorageEvent, isJSON bool) {
	msg := ev.Msg
	if msg == "" {
		msg = ev.RawMsg
	}

	if isJSON {
		raw, err := json.MarshalIndent(ev, "", "  ")
		if err != nil {
			return
		}
		fmt.Println(string(raw))
		return
	}

	fmt.Printf("%s %s %s %s\n", ev.Timestamp.Local().Format("Mon, 02 Jan 2006 15:04:05 -0700"),
		ev.Hostname, ev.SubSystem, msg)
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		cli.BoolFlag{Name: "f", Usage: "skip permission check"},
		cli.BoolFlag{Name: "J", Usage: "use JSON format"},
		cli.StringFlag{Name: "severity", Value: "Debug", Usage: "only show events at or above this severity"},
		cli.StringSliceFlag{Name: "event-type", Usage: "only show events with this event type (repeatable)"},
		cli.StringSliceFlag{Name: "sub-system", Usage: "only show events from this sub-system (repeatable)"},
		cli.StringFlag{Name: "blk", Usage: "only show events for this block (wwid or owner wwid)"},
	}
}

func actionMonitor(c *cli.Context) error {
	if !c.Bool("f") {
		if err := checkPermission(); err != nil {
			return err
		}
	}
	f := filterFromCtx(c)

	r, err := journal.OpenReader()
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	ch := make(chan domain.StorageEvent, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Monitor(ctx, f.Filter, ch)
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return <-errCh
			}
			if f.matches(ev) {
				printEvent(ev, c.Bool("J"))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func actionQuery(c *cli.Context) error {
	if !c.Bool("f") {
		if err := checkPermission(); err != nil {
			return err
		}
	}
	f := filterFromCtx(c)

	if since := c.String("since"); since != "" {
		t, err := parseSince(since)
		if err != nil {
			return err
		}
		f.Since = t
	}

	r, err := journal.OpenReader()
	if err != nil {
		return err
	}
	defer r.Close()

	events, err := r.Query(f.Filter)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if f.matches(ev) {
			printEvent(ev, c.Bool("J"))
		}
	}
	return nil
}

func newResolver() *blkinfo.Resolver {
	ios := sysio.NewIOService(domain.IOOsFileService)
	return blkinfo.NewResolver(ios)
}

func lookupBlkInfo(resolver *blkinfo.Resolver, blk string) (*domain.BlkInfo, error) {
	if strings.HasPrefix(blk, "/dev") {
		return resolver.New(blk, false)
	}

	infos, err := resolver.List()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if blkInfoMatches(blk, info) {
			return &info, nil
		}
		for _, owner := range info.Owners {
			if blkInfoMatches(blk, owner) {
				return &info, nil
			}
		}
	}
	return nil, domain.NewError(domain.BlockNoExists, "specified block not found: %s", blk)
}

func blkInfoMatches(blk string, info domain.BlkInfo) bool {
	return info.Wwid == blk || (info.MountPoint != "" && info.MountPoint == blk)
}

func printBlkInfo(i domain.BlkInfo, isJSON, isSimple bool, prefix string) {
	if isJSON {
		raw, err := json.MarshalIndent(i, "", "  ")
		if err == nil {
			fmt.Println(string(raw))
		}
		return
	}

	if isSimple {
		name := i.BlkPath
		if idx := strings.LastIndex(i.BlkPath, "/"); idx >= 0 {
			name = i.BlkPath[idx+1:]
		}
		if i.MountPoint != "" {
			fmt.Printf("%s%s : %s : %s\n", prefix, name, i.Wwid, i.MountPoint)
		} else {
			fmt.Printf("%s%s : %s\n", prefix, name, i.Wwid)
		}
	} else {
		fmt.Printf("%sblk_path     : %s\n", prefix, i.BlkPath)
		fmt.Printf("%spreferred    : %s\n", prefix, i.PreferredBlkPath)
		fmt.Printf("%sblk_type     : %s\n", prefix, i.BlkType)
		fmt.Printf("%swwid         : %s\n", prefix, i.Wwid)
		fmt.Printf("%stransport_id : %s\n", prefix, i.TransportId)
		fmt.Printf("%suuid         : %s\n", prefix, i.Uuid)
		fmt.Printf("%smount_point  : %s\n", prefix, i.MountPoint)
	}

	if prefix == "" && len(i.Owners) > 0 {
		if !isSimple {
			fmt.Printf("%sowners       :\n", prefix)
		}
		for _, owner := range i.Owners {
			printBlkInfo(owner, isJSON, isSimple, prefix+"  ")
			if !isSimple {
				fmt.Println()
			}
		}
	}
}

func actionInfo(c *cli.Context) error {
	blk := c.Args().First()
	if blk == "" {
		return fmt.Errorf("'blk' argument is required")
	}
	info, err := lookupBlkInfo(newResolver(), blk)
	if err != nil {
		return err
	}
	printBlkInfo(*info, c.Bool("J"), false, "")
	return nil
}

func actionList(c *cli.Context) error {
	if c.Bool("J") && c.Bool("D") {
		return fmt.Errorf("argument 'D' conflicts with 'J'")
	}
	infos, err := newResolver().List()
	if err != nil {
		return fmt.Errorf("failed to list current blocks: %v", err)
	}
	isSimple := !c.Bool("D")
	for _, info := range infos {
		printBlkInfo(info, c.Bool("J"), isSimple, "")
		fmt.Println()
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "prpt"
	app.Usage = "CLI utility for peripety events"
	app.Version = "0.1"

	app.Commands = []cli.Command{
		{
			Name:  "monitor",
			Usage: "monitor incoming events",
			Flags: append(commonFlags(), cli.BoolFlag{Name: "N", Usage: "notify via desktop notification"}),
			Action: actionMonitor,
		},
		{
			Name:  "query",
			Usage: "query saved events",
			Flags: append(commonFlags(), cli.StringFlag{
				Name: "since", Usage: "only show events on or after this time (\"today\", \"yesterday\", \"2018-05-21\", \"2012-10-30 18:17:16\")",
			}),
			Action: actionQuery,
		},
		{
			Name:      "info",
			Usage:     "query block information",
			ArgsUsage: "<blk>",
			Flags:     []cli.Flag{cli.BoolFlag{Name: "J", Usage: "use JSON format"}},
			Action:    actionInfo,
		},
		{
			Name:   "list",
			Usage:  "list current blocks",
			Flags:  []cli.Flag{cli.BoolFlag{Name: "D", Usage: "detailed output"}, cli.BoolFlag{Name: "J", Usage: "use JSON format"}},
			Action: actionList,
		},
	}

	if err := app.Run(os.Args); err != nil {
		quitWithMsg(err.Error())
	}
}
