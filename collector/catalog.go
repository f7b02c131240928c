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

package collector

import (
	"regexp"

	"github.com/cathay4t/peripetyd-go/domain"
)

// builtinSpec is the uncompiled shape of the built-in catalog. Go's
// regexp (RE2) has no equivalent of Rust's `(?x)` extended/verbose mode
// used by the upstream catalog to spread each pattern across lines with
// inline commentary, so every pattern below has been manually compacted to
// a single-line, non-extended-mode expression; the named capture groups
// (kdev, plus whatever else each event type needs) are preserved exactly.
type builtinSpec struct {
	startsWith string
	pattern    string
	subSystem  domain.StorageSubSystem
	eventType  string
}

var builtinCatalogSpec = []builtinSpec{
	{
		startsWith: "device-mapper: multipath:",
		pattern:    `^device-mapper: multipath: Failing path (?P<kdev>\d+:\d+).$`,
		subSystem:  domain.SubSystemMultipath,
		eventType:  "DM_MPATH_PATH_FAILED",
	},
	{
		startsWith: "device-mapper: multipath:",
		pattern:    `^device-mapper: multipath: Reinstating path (?P<kdev>\d+:\d+).$`,
		subSystem:  domain.SubSystemMultipath,
		eventType:  "DM_MPATH_PATH_REINSTATED",
	},
	{
		startsWith: "device-mapper: dirty region log:",
		pattern:    `^device-mapper: dirty region log: (?P<kdev>\d+:\d+): Failed to read header on dirty region log device$`,
		subSystem:  domain.SubSystemDmDirtyLog,
		eventType:  "DM_DIRTY_LOG_READ_FAILED",
	},
	{
		startsWith: "device-mapper: dirty region log:",
		pattern:    `^device-mapper: dirty region log: (?P<kdev>\d+:\d+): Failed to write header on dirty region log device$`,
		subSystem:  domain.SubSystemDmDirtyLog,
		eventType:  "DM_DIRTY_LOG_WRITE_FAILED",
	},
	{
		startsWith: "sd ",
		pattern:    `^sd \d+:\d+:\d+:\d+: \[(?P<kdev>sd[a-z]+)\] Unaligned partial completion \(resid=(?P<resid>\d+), sector_sz=(?P<sector_sz>\d+)\)$`,
		subSystem:  domain.SubSystemScsi,
		eventType:  "SCSI_UNALIGNED_PARTIAL_COMPLETION",
	},
	{
		startsWith: "sd ",
		pattern:    `^sd \d+:\d+:\d+:\d+: \[(?P<kdev>sd[a-z]+)\] Spinning up disk\.\.\.$`,
		subSystem:  domain.SubSystemScsi,
		eventType:  "SCSI_SPINNING_UP_DISK",
	},
	{
		startsWith: "sd ",
		pattern:    `^sd \d+:\d+:\d+:\d+: \[(?P<kdev>sd[a-z]+)\] tag#\d+ Sense Key : (?P<sense_key>[^\[\]]+) \[(?P<is_deferred>deferred|current)\]`,
		subSystem:  domain.SubSystemScsi,
		eventType:  "SCSI_SENSE_KEY",
	},
	{
		startsWith: "sd ",
		pattern:    `^sd \d+:\d+:\d+:\d+: \[(?P<kdev>sd[a-z]+)\] tag#\d+ Add\. Sense: (?P<asc>.+)$`,
		subSystem:  domain.SubSystemScsi,
		eventType:  "SCSI_ADDITIONAL_SENSE_CODE",
	},
	{
		startsWith: "sd ",
		pattern:    `^sd \d+:\d+:\d+:\d+: \[(?P<kdev>sd[a-z]+)\] Medium access timeout failure\. Offlining disk!$`,
		subSystem:  domain.SubSystemScsi,
		eventType:  "SCSI_MEDIUM_ACCESS_TIMEOUT_OFFLINEING_DISK",
	},
	{
		startsWith: "EXT4-fs ",
		pattern:    `^EXT4-fs \((?P<kdev>[^\s\)]+)\): mounted filesystem with(?P<data_mode>.+)\. Opts: (?P<opts>.+)$`,
		subSystem:  domain.SubSystemFsExt4,
		eventType:  "FS_MOUNTED",
	},
	{
		startsWith: "EXT4-fs ",
		pattern:    `^EXT4-fs \((?P<kdev>[^\s\)]+)\): Remounting filesystem read-only$`,
		subSystem:  domain.SubSystemFsExt4,
		eventType:  "FS_REMOUNT_READ_ONLY",
	},
	{
		startsWith: "EXT4-fs (device ",
		pattern:    `^EXT4-fs \(device (?P<kdev>[^\s\)]+)\): panic forced after error`,
		subSystem:  domain.SubSystemFsExt4,
		eventType:  "FS_PANIC",
	},
	{
		startsWith: "EXT4-fs error (device ",
		pattern:    `^EXT4-fs error \(device (?P<kdev>[^\s\)]+)\): `,
		subSystem:  domain.SubSystemFsExt4,
		eventType:  "FS_ERROR",
	},
	{
		startsWith: "XFS ",
		pattern:    `^XFS \((?P<kdev>[^\s\)]+)\): Ending clean mount`,
		subSystem:  domain.SubSystemFsXfs,
		eventType:  "FS_MOUNTED",
	},
	{
		startsWith: "XFS ",
		pattern:    `^XFS \((?P<kdev>[^\s\)]+)\): Unmounting Filesystem$`,
		subSystem:  domain.SubSystemFsXfs,
		eventType:  "FS_UNMOUNTED",
	},
	{
		startsWith: "XFS ",
		pattern:    `^XFS \((?P<kdev>[^\s\)]+)\): writeback error on sector`,
		subSystem:  domain.SubSystemFsXfs,
		eventType:  "FS_IO_ERROR",
	},
	{
		startsWith: "EXT4-fs ",
		pattern:    `^EXT4-fs warning \(device (?P<kdev>[^\s\)]+)\): ext4_end_bio:[0-9]+: I/O error`,
		subSystem:  domain.SubSystemFsExt4,
		eventType:  "FS_IO_ERROR",
	},
	{
		startsWith: "JBD2: ",
		pattern:    `^JBD2: Detected IO errors while flushing file data on (?P<kdev>[^\s]+)-[0-9]+$`,
		subSystem:  domain.SubSystemFsJbd2,
		eventType:  "FS_IO_ERROR",
	},
}

// BuiltinCatalog compiles the built-in regex catalog. A malformed built-in
// pattern is a developer bug, not a runtime condition, so this panics
// rather than returning an error -- there is no recovery path a caller
// could meaningfully take.
func BuiltinCatalog() []domain.RegexConf {
	catalog := make([]domain.RegexConf, 0, len(builtinCatalogSpec))
	for _, spec := range builtinCatalogSpec {
		catalog = append(catalog, domain.RegexConf{
			StartsWith: spec.startsWith,
			Regexp:     regexp.MustCompile(spec.pattern),
			SubSystem:  spec.subSystem,
			EventType:  spec.eventType,
		})
	}
	return catalog
}

// CompileUserEntry compiles a single user-supplied catalog entry from the
// TOML config file. Malformed user regexes are soft-skipped by the caller
// (ConfError, logged and dropped) rather than fatal.
func CompileUserEntry(startsWith, pattern, subSystem, eventType string) (*domain.RegexConf, error) {
	sub, err := domain.ParseStorageSubSystem(subSystem)
	if err != nil {
		return nil, domain.NewError(domain.ConfError, "unknown sub_system %q: %v", subSystem, err)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, domain.NewError(domain.ConfError, "invalid regex %q: %v", pattern, err)
	}
	if !hasNamedGroup(re, "kdev") {
		return nil, domain.NewError(domain.ConfError, "regex %q has no named 'kdev' capture group", pattern)
	}

	return &domain.RegexConf{
		StartsWith: startsWith,
		Regexp:     re,
		SubSystem:  sub,
		EventType:  eventType,
	}, nil
}

func hasNamedGroup(re *regexp.Regexp, name string) bool {
	for _, n := range re.SubexpNames() {
		if n == name {
			return true
		}
	}
	return false
}
