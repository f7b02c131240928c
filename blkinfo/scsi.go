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
	"fmt"
	"path/filepath"

	"github.com/cathay4t/peripetyd-go/domain"
)

// resolveScsi handles the "sda"-shaped identifier once any multipath
// holder has already been ruled out by New().
func (r *Resolver) resolveScsi(kdev string) (*domain.BlkInfo, error) {
	wwidPath := filepath.Join("/sys/block", kdev, "device/wwid")

	raw, err := r.sfs.Read(wwidPath)
	if err != nil {
		return nil, domain.NewError(domain.BlockNoExists, "no scsi device %s", kdev)
	}

	blkPath := filepath.Join("/dev", kdev)

	bi := &domain.BlkInfo{
		Wwid:             PrettifyWwid(raw),
		BlkType:          domain.BlkScsi,
		BlkPath:          blkPath,
		PreferredBlkPath: r.PreferredBlkPath(blkPath, ""),
		TransportId:      r.scsiTransportId(kdev),
	}
	bi.SetKdev(kdev)

	return bi, nil
}

// resolvePartition handles "sdXN" identifiers (spec §4.B.1.3): the parent
// whole disk is resolved first and the partition's wwid is derived from
// it; multipath parents additionally get a "-partN" path fallback.
func (r *Resolver) resolvePartition(kdev string) (*domain.BlkInfo, error) {
	m := reSdPartition.FindStringSubmatch(kdev)
	if m == nil {
		return nil, domain.NewError(domain.NoSupport, "%s is not a partition", kdev)
	}
	parentName, partNum := m[1], m[2]

	parent, err := r.new(parentName, false)
	if err != nil {
		return nil, err
	}

	blkPath := filepath.Join("/dev", kdev)
	if parent.BlkType == domain.BlkDmMultipath {
		candidate := fmt.Sprintf("%s-part%s", parent.BlkPath, partNum)
		if r.sfs.Exists(candidate) {
			blkPath = candidate
		} else {
			candidate = parent.BlkPath + partNum
			if r.sfs.Exists(candidate) {
				blkPath = candidate
			} else {
				return nil, domain.NewError(domain.BlockNoExists,
					"no partition device node for %s under multipath parent %s", kdev, parent.BlkPath)
			}
		}
	}

	bi := &domain.BlkInfo{
		Wwid:             fmt.Sprintf("%s-part%s", parent.Wwid, partNum),
		BlkType:          domain.BlkPartition,
		BlkPath:          blkPath,
		PreferredBlkPath: r.PreferredBlkPath(blkPath, ""),
		Owners:           append([]domain.BlkInfo{*parent}, parent.Owners...),
	}
	bi.SetKdev(kdev)

	return bi, nil
}
