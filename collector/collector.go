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

// Package collector reads /dev/kmsg, decomposes each frame into a
// (severity, message, dictionary) candidate, and classifies it against an
// ordered regex catalog into raw domain.StorageEvent values.
package collector

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/sirupsen/logrus"
)

// frame is one decomposed /dev/kmsg record.
type frame struct {
	severity domain.LogSeverity
	msg      string
	dict     map[string]string
}

// parseFrame decomposes a raw kmsg record. Only kernel-facility (0) lines
// survive; frames with fewer than four comma-separated prefix fields are
// skipped, per the kmsg ABI. The continuation flag (the 4th prefix field,
// one of "-"/"c"/"+") is parsed and discarded: nothing in this pipeline
// coalesces multi-line messages across frames.
func parseFrame(raw string) (*frame, bool) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 {
		return nil, false
	}

	semi := strings.IndexByte(lines[0], ';')
	if semi < 0 {
		return nil, false
	}
	prefix, msg := lines[0][:semi], lines[0][semi+1:]

	fields := strings.Split(prefix, ",")
	if len(fields) < 4 {
		return nil, false
	}

	prioFacility, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, false
	}
	facility := prioFacility >> 3
	if facility != 0 {
		return nil, false
	}
	severity := domain.LogSeverity(prioFacility & 0x7)

	dict := make(map[string]string)
	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, " ") {
			continue
		}
		kv := strings.TrimPrefix(line, " ")
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		dict[kv[:idx]] = kv[idx+1:]
	}

	return &frame{severity: severity, msg: msg, dict: dict}, true
}

// Collector owns a kmsg Source and an ordered classification catalog.
type Collector struct {
	hostname string
	source   Source
	catalog  []domain.RegexConf
}

// New builds a Collector. catalog is evaluated in order; build it with
// BuiltinCatalog() plus any config-supplied entries appended.
func New(hostname string, source Source, catalog []domain.RegexConf) *Collector {
	return &Collector{hostname: hostname, source: source, catalog: catalog}
}

// SetCatalog swaps the classification catalog, used by the orchestrator's
// SIGHUP reload leg. The swap is not synchronized: callers must only call
// this from the same goroutine driving Run, or quiesce Run first.
func (c *Collector) SetCatalog(catalog []domain.RegexConf) {
	c.catalog = catalog
}

// Run reads frames until ctx is canceled or the source is exhausted,
// sending one raw StorageEvent per classified frame to out. Frames that
// fail to parse, or whose message matches nothing in the catalog, are
// silently discarded, per spec.
func (c *Collector) Run(ctx context.Context, out chan<- domain.StorageEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := c.source.ReadFrame()
		if err != nil {
			return err
		}

		f, ok := parseFrame(raw)
		if !ok {
			continue
		}

		event, ok := c.classify(f)
		if !ok {
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// classify runs the catalog in order and returns the first match,
// constructing a raw StorageEvent whose "kdev" named capture is lifted
// into Kdev and every other named capture into Extension.
func (c *Collector) classify(f *frame) (domain.StorageEvent, bool) {
	for _, rc := range c.catalog {
		caps, ok := rc.Matches(f.msg)
		if !ok {
			continue
		}

		event := domain.StorageEvent{
			Hostname:  c.hostname,
			Timestamp: time.Now(),
			EventId:   domain.NewEventID(),
			Severity:  f.severity,
			SubSystem: rc.SubSystem,
			EventType: rc.EventType,
			RawMsg:    f.msg,
			Class:     domain.Raw,
			Extension: make(map[string]string, len(caps)),
		}
		for name, value := range caps {
			if name == "kdev" {
				event.Kdev = value
				continue
			}
			event.Extension[name] = value
		}

		logrus.WithFields(logrus.Fields{
			"sub_system": rc.SubSystem,
			"event_type": rc.EventType,
			"kdev":       event.Kdev,
		}).Debug("collector: classified kmsg line")

		return event, true
	}
	return domain.StorageEvent{}, false
}
