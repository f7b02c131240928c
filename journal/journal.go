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

// Package journal implements the sink that writes enriched StorageEvents
// to the systemd journal, and the reader prpt uses to query them back.
package journal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/coreos/go-systemd/v22/journal"
)

// IsPeripetyField marks every record this package writes. prpt's reader
// filters on it to ignore unrelated journal noise.
const IsPeripetyField = "IS_PERIPETY"

// Sink accepts a fully-enriched StorageEvent for durable storage.
type Sink interface {
	Write(ev domain.StorageEvent) error
}

// SystemdSink writes to the local systemd-journald via sd_journal_send.
type SystemdSink struct{}

func NewSystemdSink() *SystemdSink { return &SystemdSink{} }

// Write populates the field contract and hands it to journal.Send. The
// message body is ev.Msg if set, else ev.RawMsg.
func (s *SystemdSink) Write(ev domain.StorageEvent) error {
	vars := fields(ev)

	msg := ev.Msg
	if msg == "" {
		msg = ev.RawMsg
	}

	if err := journal.Send(msg, toPriority(ev.Severity), vars); err != nil {
		return domain.NewError(domain.LogAccessError, "writing to journald: %v", err)
	}
	return nil
}

func toPriority(s domain.LogSeverity) journal.Priority {
	return journal.Priority(s)
}

// fields builds the journal field map: DEV_WWID/DEV_PATH, one
// OWNERS_WWIDS/OWNERS_PATHS pair per owner, EXT_<UPPERKEY> per extension
// entry, and the event's full JSON serialization under JSON.
//
// The wire contract calls for a repeated OWNERS_WWIDS/OWNERS_PATHS field
// per owner, which the native journal protocol supports directly. This
// package only has journal.Send(vars map[string]string) to write through,
// and a Go map cannot hold two entries under one key, so owners are instead
// suffixed OWNERS_WWIDS_<i>/OWNERS_PATHS_<i>. A consumer matching on the
// bare repeated-key name (e.g. `journalctl OWNERS_WWIDS=<wwid>`) will miss
// these; the JSON field carries the full, unambiguous owner list as a
// fallback. See DESIGN.md's journal section.
func fields(ev domain.StorageEvent) map[string]string {
	vars := map[string]string{
		IsPeripetyField: "TRUE",
		"PRIORITY":      strconv.Itoa(int(ev.Severity)),
		"DEV_WWID":      ev.BlkInfo.Wwid,
		"DEV_PATH":      ev.BlkInfo.BlkPath,
		"EVENT_TYPE":    ev.EventType,
		"EVENT_ID":      ev.EventId,
		"SUB_SYSTEM":    ev.SubSystem.String(),
	}

	for i, w := range ev.BlkInfo.OwnerWwids() {
		vars[fmt.Sprintf("OWNERS_WWIDS_%d", i)] = w
	}
	for i, p := range ev.BlkInfo.OwnerPaths() {
		vars[fmt.Sprintf("OWNERS_PATHS_%d", i)] = p
	}

	for k, v := range ev.Extension {
		vars["EXT_"+strings.ToUpper(k)] = v
	}

	if raw, err := json.Marshal(ev); err == nil {
		vars["JSON"] = string(raw)
	}

	return vars
}
