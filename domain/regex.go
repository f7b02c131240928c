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

import "regexp"

// RegexConf is one catalog entry. StartsWith, when non-empty, is a cheap
// prefix fast-path reject tried before Regexp; the catalog is evaluated in
// order and the first full match wins.
type RegexConf struct {
	StartsWith string
	Regexp     *regexp.Regexp
	SubSystem  StorageSubSystem
	EventType  string
}

// Matches reports whether msg satisfies both the starts_with fast path (if
// set) and the compiled regex, and if so returns the regex's named capture
// groups (including "kdev").
func (r *RegexConf) Matches(msg string) (map[string]string, bool) {
	if r.StartsWith != "" {
		if len(msg) < len(r.StartsWith) || msg[:len(r.StartsWith)] != r.StartsWith {
			return nil, false
		}
	}

	match := r.Regexp.FindStringSubmatch(msg)
	if match == nil {
		return nil, false
	}

	names := r.Regexp.SubexpNames()
	caps := make(map[string]string, len(names))
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		caps[name] = match[i]
	}

	return caps, true
}
