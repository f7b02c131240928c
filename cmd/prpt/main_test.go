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
	"flag"
	"testing"
	"time"

	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/urfave/cli"
)

// newTestContext builds a *cli.Context carrying commonFlags(), parsed from
// args, the same flag set "monitor"/"query" register at runtime.
func newTestContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range commonFlags() {
		f.Apply(set)
	}
	if err := set.Parse(args); err != nil {
		t.Fatalf("parsing flags %v: %v", args, err)
	}
	return cli.NewContext(nil, set, nil)
}

func eventAt(sev domain.LogSeverity) domain.StorageEvent {
	return domain.StorageEvent{Timestamp: time.Now(), Severity: sev}
}

// TestCliFilter_SeverityFilter covers testable property 8: `monitor
// --severity=Warning` yields only events at or above Warning.
func TestCliFilter_SeverityFilter(t *testing.T) {
	f := filterFromCtx(newTestContext(t, "--severity=Warning"))

	allowed := []domain.LogSeverity{domain.Emergency, domain.Alert, domain.Critical, domain.Err, domain.Warning}
	for _, sev := range allowed {
		if !f.matches(eventAt(sev)) {
			t.Errorf("severity %s should pass --severity=Warning", sev)
		}
	}

	denied := []domain.LogSeverity{domain.Notice, domain.Info, domain.Debug}
	for _, sev := range denied {
		if f.matches(eventAt(sev)) {
			t.Errorf("severity %s should be filtered out by --severity=Warning", sev)
		}
	}
}

func TestCliFilter_DefaultSeverityAllowsEverything(t *testing.T) {
	f := filterFromCtx(newTestContext(t))

	for _, sev := range []domain.LogSeverity{domain.Emergency, domain.Debug} {
		if !f.matches(eventAt(sev)) {
			t.Errorf("default severity filter unexpectedly rejected %s", sev)
		}
	}
}

func TestCliFilter_BlkMatchesOwnerWwid(t *testing.T) {
	f := filterFromCtx(newTestContext(t, "--blk=naa.222"))

	ev := eventAt(domain.Debug)
	ev.BlkInfo = domain.BlkInfo{
		Wwid:   "mpath-naa.111",
		Owners: []domain.BlkInfo{{Wwid: "naa.222"}, {Wwid: "naa.333"}},
	}
	if !f.matches(ev) {
		t.Error("expected --blk to match an owner wwid, not just the top-level wwid")
	}

	ev.BlkInfo.Owners = []domain.BlkInfo{{Wwid: "naa.999"}}
	if f.matches(ev) {
		t.Error("expected --blk to reject an event with no matching wwid among owners")
	}
}
