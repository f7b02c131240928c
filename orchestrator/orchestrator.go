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

// Package orchestrator wires the collector, the parser stages, and the
// journal sink into a single running pipeline: one goroutine reads
// /dev/kmsg and classifies frames, one goroutine per parser stage
// enriches events of its subsystem, and a final goroutine delivers
// enriched events to the sink and re-offers them, as Synthetic, to any
// other stage that declared interest in that subsystem's output.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/collector"
	"github.com/cathay4t/peripetyd-go/config"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/cathay4t/peripetyd-go/parser"
	"github.com/sirupsen/logrus"
)

// Sink is the narrow interface the orchestrator needs from journal.Sink,
// kept local so this package doesn't have to import journal just to spell
// out the dependency.
type Sink interface {
	Write(ev domain.StorageEvent) error
}

const eventBuffer = 64

// Orchestrator owns one Collector, the parser stages it fans Raw events
// out to, and the sink enriched events are delivered to.
type Orchestrator struct {
	hostname  string
	collector *collector.Collector
	stages    []parser.Stage
	resolver  *blkinfo.Resolver
	sink      Sink
	stdout    StdoutWriter

	mu   sync.RWMutex
	main config.Main
}

// StdoutWriter is satisfied by *os.File; narrowed for testability.
type StdoutWriter interface {
	WriteString(s string) (int, error)
}

func New(hostname string, coll *collector.Collector, stages []parser.Stage, resolver *blkinfo.Resolver, sink Sink, stdout StdoutWriter, main config.Main) *Orchestrator {
	return &Orchestrator{
		hostname:  hostname,
		collector: coll,
		stages:    stages,
		resolver:  resolver,
		sink:      sink,
		stdout:    stdout,
		main:      main,
	}
}

// Reload atomically swaps the daemon-level config and, if catalog is
// non-nil, pushes a reloaded regex catalog into the collector. This is
// the orchestrator-side half of a SIGHUP reload.
func (o *Orchestrator) Reload(main config.Main, catalog []domain.RegexConf) {
	o.mu.Lock()
	o.main = main
	o.mu.Unlock()

	if catalog != nil {
		o.collector.SetCatalog(catalog)
	}
}

func (o *Orchestrator) mainConfig() config.Main {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.main
}

// Run blocks until ctx is canceled or the collector's event source ends
// (e.g. /dev/kmsg read error). It shuts the pipeline down in dependency
// order: the collector stops first, which lets the fan-out wiring drain
// and close each stage's input, which lets every stage worker drain and
// exit, at which point it is safe to close the shared sink channel.
func (o *Orchestrator) Run(ctx context.Context) error {
	collectorOut := make(chan domain.StorageEvent, eventBuffer)
	notifierIn := make(chan domain.StorageEvent, eventBuffer)

	stageIns := make([]chan domain.StorageEvent, len(o.stages))
	for i := range o.stages {
		stageIns[i] = make(chan domain.StorageEvent, eventBuffer)
	}

	var stageWg sync.WaitGroup
	for i, stage := range o.stages {
		stageWg.Add(1)
		go o.runStageWorker(stage, stageIns[i], notifierIn, &stageWg)
	}

	var fanOutWg sync.WaitGroup
	fanOutWg.Add(1)
	go func() {
		defer fanOutWg.Done()
		fanOutToParsers(collectorOut, o.stages, stageIns)
	}()

	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		o.drainToSinks(ctx, notifierIn)
	}()

	if o.mainConfig().DumpBlkInfoAtStartOrDefault() {
		o.dumpBlkInfos(notifierIn)
	}

	runErr := o.collector.Run(ctx, collectorOut)

	close(collectorOut)
	fanOutWg.Wait()
	stageWg.Wait()
	close(notifierIn)
	<-sinkDone

	return runErr
}

// runStageWorker is the sole consumer of in and sole producer, among its
// siblings sharing the same stage, into out. A Process error is logged and
// the event is dropped; the worker itself never exits until in is closed.
func (o *Orchestrator) runStageWorker(stage parser.Stage, in <-chan domain.StorageEvent, out chan<- domain.StorageEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	for ev := range in {
		enriched, ok, err := stage.Process(ev)
		if err != nil {
			logrus.WithError(err).WithField("stage", stage.Name()).
				Warn("orchestrator: parser stage error, dropping event")
			continue
		}
		if !ok {
			continue
		}
		out <- enriched
	}
}

// fanOutToParsers is the sole sender into, and therefore the sole closer
// of, every channel in stageIns.
func fanOutToParsers(collectorOut <-chan domain.StorageEvent, stages []parser.Stage, stageIns []chan domain.StorageEvent) {
	for ev := range collectorOut {
		for i, stage := range stages {
			if stage.Subscribes().Accepts(ev) {
				stageIns[i] <- ev
			}
		}
	}
	for _, in := range stageIns {
		close(in)
	}
}

// drainToSinks delivers every enriched event to the configured sinks and
// then re-offers it, as Synthetic, to any stage subscribed to that
// subsystem's output. Re-offering is done as a direct call rather than a
// channel send: a stage's contract forbids emitting Synthetic of the
// subsystem it consumed, so this cannot recurse indefinitely.
func (o *Orchestrator) drainToSinks(ctx context.Context, notifierIn <-chan domain.StorageEvent) {
	for {
		select {
		case ev, ok := <-notifierIn:
			if !ok {
				return
			}
			o.deliver(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) deliver(ev domain.StorageEvent) {
	main := o.mainConfig()

	if main.NotifyStdoutOrDefault() && o.stdout != nil {
		if _, err := o.stdout.WriteString(ev.Msg + "\n"); err != nil {
			logrus.WithError(err).Warn("orchestrator: failed to write event to stdout")
		}
	}

	if main.SaveToJournaldOrDefault() && o.sink != nil {
		if err := o.sink.Write(ev); err != nil {
			logrus.WithError(err).Warn("orchestrator: failed to journal event")
		}
	}

	synth := ev
	synth.Class = domain.Synthetic

	for _, stage := range o.stages {
		sub := stage.Subscribes()
		if sub.Class != domain.Synthetic || !sub.Accepts(synth) {
			continue
		}
		out, ok, err := stage.Process(synth)
		if err != nil {
			logrus.WithError(err).WithField("stage", stage.Name()).
				Warn("orchestrator: synthetic re-offer error, dropping event")
			continue
		}
		if !ok {
			continue
		}
		o.deliver(out)
	}
}

// dumpBlkInfos walks the current block topology and delivers one
// informational PERIPETY_BLK_INFO event per device, gated by the
// dump_blk_info_at_start config flag.
func (o *Orchestrator) dumpBlkInfos(notifierIn chan<- domain.StorageEvent) {
	infos, err := o.resolver.List()
	if err != nil {
		logrus.WithError(err).Warn("orchestrator: failed to list block devices at startup")
		return
	}

	for _, bi := range infos {
		msg := fmt.Sprintf("Found block '%s' '%s'", bi.BlkPath, bi.Wwid)
		if bi.MountPoint != "" {
			msg += fmt.Sprintf(" mounted at '%s'", bi.MountPoint)
		}

		ev := domain.StorageEvent{
			Hostname:  o.hostname,
			Timestamp: time.Now(),
			EventId:   domain.NewEventID(),
			Severity:  domain.Info,
			SubSystem: domain.SubSystemPeripety,
			EventType: "PERIPETY_BLK_INFO",
			RawMsg:    msg,
			Msg:       msg,
			BlkInfo:   bi,
			Class:     domain.Synthetic,
		}
		o.deliver(ev)
	}
}
