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

package blkinfo

import (
	"regexp"
	"strings"
)

var wwidWhitespaceRun = regexp.MustCompile(`[ \t]+`)
var wwidTrailingNulls = regexp.MustCompile(`\x00+$`)

// PrettifyWwid normalizes a raw SCSI wwid attribute. The trailing NUL
// padding some kernels leave in the attribute sits outside what trim()
// treats as whitespace, so it must be stripped before the surrounding
// whitespace trim and internal-whitespace collapse run, or a dash is left
// dangling where the padding used to be. Idempotent:
// PrettifyWwid(PrettifyWwid(s)) == PrettifyWwid(s).
func PrettifyWwid(s string) string {
	s = wwidTrailingNulls.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = wwidWhitespaceRun.ReplaceAllString(s, "-")
	return s
}
