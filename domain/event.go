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

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogSeverity mirrors the syslog severity scale (0 highest .. 7 lowest).
type LogSeverity int

const (
	Emergency LogSeverity = iota
	Alert
	Critical
	Err
	Warning
	Notice
	Info
	Debug
)

var severityNames = [...]string{
	"Emergency", "Alert", "Critical", "Error", "Warning", "Notice", "Info", "Debug",
}

func (s LogSeverity) String() string {
	if int(s) < 0 || int(s) >= len(severityNames) {
		return "Unknown"
	}
	return severityNames[s]
}

// ParseLogSeverity accepts either the symbolic name or the numeric syslog
// level and is case-insensitive on the name.
func ParseLogSeverity(s string) (LogSeverity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(name, s) {
			return LogSeverity(i), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n >= 0 && n < len(severityNames) {
		return LogSeverity(n), nil
	}
	return 0, NewError(LogSeverityParseError, "unrecognized severity %q", s)
}

// AtLeastAsSevereAs reports whether s is s or more severe (numerically <=)
// than threshold, used by the CLI's `monitor --severity=` filter.
func (s LogSeverity) AtLeastAsSevereAs(threshold LogSeverity) bool {
	return s <= threshold
}

// StorageSubSystem enumerates the kernel subsystems the catalog classifies
// lines into.
type StorageSubSystem int

const (
	SubSystemUnknown StorageSubSystem = iota
	SubSystemScsi
	SubSystemDmDirtyLog
	SubSystemLvmThin
	SubSystemMultipath
	SubSystemFsExt4
	SubSystemFsJbd2
	SubSystemFsXfs
	SubSystemNvme
	SubSystemPeripety
	SubSystemOther
)

var subSystemNames = map[StorageSubSystem]string{
	SubSystemUnknown:     "Unknown",
	SubSystemScsi:        "Scsi",
	SubSystemDmDirtyLog:  "DmDirtyLog",
	SubSystemLvmThin:     "LvmThin",
	SubSystemMultipath:   "Multipath",
	SubSystemFsExt4:      "FsExt4",
	SubSystemFsJbd2:      "FsJbd2",
	SubSystemFsXfs:       "FsXfs",
	SubSystemNvme:        "Nvme",
	SubSystemPeripety:    "Peripety",
	SubSystemOther:       "Other",
}

func (s StorageSubSystem) String() string {
	if name, ok := subSystemNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseStorageSubSystem is case-insensitive and used both by the config
// loader (user catalog entries) and the CLI `--sub-system` filter.
func ParseStorageSubSystem(s string) (StorageSubSystem, error) {
	for k, name := range subSystemNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return SubSystemUnknown, NewError(StorageSubSystemParseError, "unrecognized sub_system %q", s)
}

// EventClass distinguishes a Raw event (freshly classified off kmsg) from a
// Synthetic one (re-offered to stages that subscribed to a subsystem's
// already-enriched output). Exactly one level of Synthetic propagation is
// permitted.
type EventClass int

const (
	Raw EventClass = iota
	Synthetic
)

// StorageEvent is the enriched output record journaled by the sink and
// read back by prpt.
type StorageEvent struct {
	Hostname  string            `json:"hostname"`
	Timestamp time.Time         `json:"timestamp"`
	EventId   string            `json:"event_id"`
	Severity  LogSeverity       `json:"severity"`
	SubSystem StorageSubSystem  `json:"sub_system"`
	EventType string            `json:"event_type"`
	RawMsg    string            `json:"raw_msg"`
	Msg       string            `json:"msg"`
	BlkInfo   BlkInfo           `json:"blk_info"`
	Extension map[string]string `json:"extension"`

	// Class is never serialized: it only governs routing within the
	// pipeline (Raw vs Synthetic fan-out).
	Class EventClass `json:"-"`

	// Kdev is internal-only: the kernel-device token extracted by the
	// classifying regex, consumed by the parser stages to resolve
	// BlkInfo. Never serialized.
	Kdev string `json:"-"`
}

// NewEventID returns a fresh UUIDv4 suitable for StorageEvent.EventId.
func NewEventID() string {
	return uuid.New().String()
}

// FormatTimestamp renders t as RFC3339 with microsecond precision, in local
// time. Neither the journal sink nor prpt calls it: StorageEvent.Timestamp
// is serialized by time.Time's own RFC3339Nano JSON encoding.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05.000000Z07:00")
}
