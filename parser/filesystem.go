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

package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/domain"
)

// FilesystemStage enriches Raw/{FsExt4,FsXfs,FsJbd2} events. An event for a
// filesystem with no discoverable UUID is dropped: there is no stable
// identifier left to attach it to.
type FilesystemStage struct {
	resolver *blkinfo.Resolver
}

func NewFilesystemStage(resolver *blkinfo.Resolver) *FilesystemStage {
	return &FilesystemStage{resolver: resolver}
}

func (s *FilesystemStage) Name() string { return "filesystem" }

func (s *FilesystemStage) Subscribes() Subscription {
	return Subscription{
		Class: domain.Raw,
		SubSystems: []domain.StorageSubSystem{
			domain.SubSystemFsExt4,
			domain.SubSystemFsXfs,
			domain.SubSystemFsJbd2,
		},
	}
}

func (s *FilesystemStage) Process(ev domain.StorageEvent) (domain.StorageEvent, bool, error) {
	bi, err := s.resolver.New(ev.Kdev, false)
	if err != nil {
		return ev, false, err
	}
	if bi.Uuid == "" {
		// No stable filesystem identifier left to attach this event to.
		return ev, false, nil
	}

	ev.BlkInfo = *bi
	if ev.Extension == nil {
		ev.Extension = make(map[string]string)
	}
	ev.Extension["uuid"] = bi.Uuid
	if bi.MountPoint != "" {
		ev.Extension["mount_point"] = bi.MountPoint
	}

	if ev.SubSystem == domain.SubSystemFsExt4 && ev.EventType == "FS_MOUNTED" {
		ev.Extension["data_mode"] = normalizeDataMode(ev.Extension["data_mode"])
	}

	ev.Msg = formatMsg(ev, bi)

	return ev, true, nil
}

// normalizeDataMode maps the ext4 FS_MOUNTED capture's free-form text (e.g.
// " ordered data mode") to one of the canonical tokens.
func normalizeDataMode(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(lower, "no journal"), strings.Contains(lower, "no_journal"):
		return "no_journal"
	case strings.Contains(lower, "ordered"):
		return "ordered"
	case strings.Contains(lower, "writeback"):
		return "writeback"
	case strings.Contains(lower, "journal"):
		return "journalled"
	default:
		return "unknown"
	}
}

// formatMsg builds the human-readable Msg: raw message, wwid, path, and
// every extension pair in a stable (sorted) order.
func formatMsg(ev domain.StorageEvent, bi *domain.BlkInfo) string {
	var b strings.Builder
	b.WriteString(ev.RawMsg)
	fmt.Fprintf(&b, " wwid=%s path=%s", bi.Wwid, bi.BlkPath)

	keys := make([]string, 0, len(ev.Extension))
	for k := range ev.Extension {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, ev.Extension[k])
	}
	return b.String()
}
