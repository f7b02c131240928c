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

// BlkType tags the kind of block device a BlkInfo describes.
type BlkType int

const (
	BlkUnknown BlkType = iota
	BlkScsi
	BlkDm
	BlkDmMultipath
	BlkDmLvm
	BlkPartition
	BlkOther
)

func (t BlkType) String() string {
	switch t {
	case BlkScsi:
		return "Scsi"
	case BlkDm:
		return "Dm"
	case BlkDmMultipath:
		return "DmMultipath"
	case BlkDmLvm:
		return "DmLvm"
	case BlkPartition:
		return "Partition"
	case BlkOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// BlkInfo is the enriched description of a single block device, including
// its flattened ownership chain (partition -> scsi disk -> multipath/lvm).
//
// kdev is deliberately unexported: it is an internal-only kernel-device
// token used while resolving owners and must never reach JSON output.
type BlkInfo struct {
	Wwid             string    `json:"wwid"`
	BlkType          BlkType   `json:"blk_type"`
	BlkPath          string    `json:"blk_path"`
	PreferredBlkPath string    `json:"preferred_blk_path"`
	Uuid             string    `json:"uuid,omitempty"`
	MountPoint       string    `json:"mount_point,omitempty"`
	TransportId      string    `json:"transport_id,omitempty"`
	Owners           []BlkInfo `json:"owners"`

	kdev string
}

// Kdev returns the internal kernel-device token (major:minor or kernel
// name) used to resolve this BlkInfo. Never serialized.
func (b *BlkInfo) Kdev() string    { return b.kdev }
func (b *BlkInfo) SetKdev(k string) { b.kdev = k }

// OwnerWwids returns the wwid of every owner, in flattened order, the shape
// the journal sink needs for repeated OWNERS_WWIDS fields.
func (b *BlkInfo) OwnerWwids() []string {
	out := make([]string, 0, len(b.Owners))
	for _, o := range b.Owners {
		out = append(out, o.Wwid)
	}
	return out
}

// OwnerPaths mirrors OwnerWwids for OWNERS_PATHS.
func (b *BlkInfo) OwnerPaths() []string {
	out := make([]string, 0, len(b.Owners))
	for _, o := range b.Owners {
		out = append(out, o.BlkPath)
	}
	return out
}
