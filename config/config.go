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

// Package config loads the daemon's TOML configuration file: the [main]
// table plus a sequence of user-supplied regex catalog entries.
package config

import (
	"os"

	"github.com/cathay4t/peripetyd-go/collector"
	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// Main mirrors the TOML [main] table. All three fields are optional and
// stay nil when absent; the *OrDefault accessors below supply the defaults
// (true, false, true) for an unset field.
type Main struct {
	SaveToJournald     *bool `toml:"save_to_journald"`
	NotifyStdout       *bool `toml:"notify_stdout"`
	DumpBlkInfoAtStart *bool `toml:"dump_blk_info_at_start"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (m Main) SaveToJournaldOrDefault() bool     { return boolOr(m.SaveToJournald, true) }
func (m Main) NotifyStdoutOrDefault() bool       { return boolOr(m.NotifyStdout, false) }
func (m Main) DumpBlkInfoAtStartOrDefault() bool { return boolOr(m.DumpBlkInfoAtStart, true) }

// RegexEntry is one user-supplied catalog entry from the TOML file.
type RegexEntry struct {
	StartsWith string `toml:"starts_with"`
	Regex      string `toml:"regex"`
	EventType  string `toml:"event_type"`
	SubSystem  string `toml:"sub_system"`
}

// File is the parsed shape of the whole TOML document.
type File struct {
	Main  Main         `toml:"main"`
	Regex []RegexEntry `toml:"regex"`
}

// Load reads and parses path, compiling the built-in catalog plus every
// syntactically valid user regex entry appended to it. A malformed user
// entry is logged and skipped (ConfError, soft failure); a malformed TOML
// document itself is a hard failure, surfaced to the caller.
func Load(path string) (Main, []domain.RegexConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Main{}, nil, domain.NewError(domain.ConfError, "reading config %s: %v", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return Main{}, nil, domain.NewError(domain.ConfError, "parsing config %s: %v", path, err)
	}

	catalog := collector.BuiltinCatalog()
	for _, entry := range f.Regex {
		rc, err := collector.CompileUserEntry(entry.StartsWith, entry.Regex, entry.SubSystem, entry.EventType)
		if err != nil {
			logrus.WithError(err).WithField("event_type", entry.EventType).
				Warn("config: skipping malformed regex entry")
			continue
		}
		catalog = append(catalog, *rc)
	}

	return f.Main, catalog, nil
}
