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
	"path/filepath"
	"strings"

	"github.com/cathay4t/peripetyd-go/domain"
)

// resolveDm handles "dm-N" identifiers (spec §4.B, "DM resolution").
// skipHolderCheck is always true on the recursive slave walk, breaking the
// holder/slave cycle the sysfs relation would otherwise form.
func (r *Resolver) resolveDm(kdev string, skipHolderCheck bool) (*domain.BlkInfo, error) {
	uuidPath := filepath.Join("/sys/block", kdev, "dm/uuid")
	if !r.sfs.Exists(uuidPath) {
		return nil, domain.NewError(domain.InternalBug, "no dm/uuid for %s", kdev)
	}

	uuid, err := r.sfs.Read(uuidPath)
	if err != nil {
		return nil, err
	}
	name, err := r.sfs.Read(filepath.Join("/sys/block", kdev, "dm/name"))
	if err != nil {
		return nil, err
	}

	blkType := domain.BlkDm
	wwid := uuid
	switch {
	case strings.HasPrefix(uuid, "LVM-"):
		blkType = domain.BlkDmLvm
	case strings.HasPrefix(uuid, "mpath-"):
		blkType = domain.BlkDmMultipath
		wwid = strings.TrimPrefix(uuid, "mpath-")
	case strings.HasPrefix(uuid, "part"):
		blkType = domain.BlkPartition
	}

	blkPath := filepath.Join("/dev/mapper", name)

	bi := &domain.BlkInfo{
		Wwid:             wwid,
		BlkType:          blkType,
		BlkPath:          blkPath,
		PreferredBlkPath: blkPath,
	}
	bi.SetKdev(kdev)

	slaveNames, err := r.sfs.ReadDir(filepath.Join("/sys/block", kdev, "slaves"))
	if err != nil {
		return nil, domain.NewError(domain.InternalBug, "reading slaves of %s: %v", kdev, err)
	}

	seen := make(map[string]bool)
	addOwner := func(o domain.BlkInfo) {
		if seen[o.Wwid] {
			return
		}
		seen[o.Wwid] = true
		bi.Owners = append(bi.Owners, o)
	}

	for _, slave := range slaveNames {
		slaveInfo, err := r.new(slave, true)
		if err != nil {
			continue
		}
		addOwner(*slaveInfo)

		// Flatten one level of sub-slaves for LVM/DM/multipath slaves so
		// the ownership chain stays a single flat sequence.
		if slaveInfo.BlkType == domain.BlkDmLvm ||
			slaveInfo.BlkType == domain.BlkDm ||
			slaveInfo.BlkType == domain.BlkDmMultipath {
			for _, sub := range slaveInfo.Owners {
				addOwner(sub)
			}
		}
	}

	if len(bi.Owners) == 0 {
		return nil, domain.NewError(domain.InternalBug, "dm device %s has no slaves", kdev)
	}

	return bi, nil
}
