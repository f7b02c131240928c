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
	"regexp"
	"strings"
)

var reHostFromDevicePath = regexp.MustCompile(`devices/.+/(host[0-9]+)/iscsi_host/`)

// scsiHostId returns the SCSI host id ("3" in "host3") that backs kdev, by
// following the device -> ../../../hostH/... symlink (spec §4.B, "SCSI
// transport").
func (r *Resolver) scsiHostId(kdev string) (string, bool) {
	target, err := r.sfs.ReadLink(filepath.Join("/sys/block", kdev, "device"))
	if err != nil {
		return "", false
	}
	for _, part := range strings.Split(target, "/") {
		if strings.HasPrefix(part, "host") {
			return strings.TrimPrefix(part, "host"), true
		}
	}
	return "", false
}

// scsiTransportId resolves and formats the transport_id field for kdev,
// fixed to the wire format spec.md §3 names: iSCSI as
// "address,port,tpgt,target_iqn,iface"; FC as "host_wwpn,target_wwpn".
// Returns "" when the device is neither (e.g. virtio, local SAS/SATA).
func (r *Resolver) scsiTransportId(kdev string) string {
	hostId, ok := r.scsiHostId(kdev)
	if !ok {
		return ""
	}

	if r.sfs.Exists(filepath.Join("/sys/class/iscsi_host", "host"+hostId)) {
		return r.iscsiTransportId(hostId)
	}
	if r.sfs.Exists(filepath.Join("/sys/class/fc_host", "host"+hostId)) {
		return r.fcTransportId(hostId, kdev)
	}
	return ""
}

func (r *Resolver) iscsiSessionId(hostId string) (string, bool) {
	target, err := r.sfs.ReadLink(filepath.Join("/sys/class/iscsi_host", "host"+hostId))
	if err != nil {
		return "", false
	}

	m := reHostFromDevicePath.FindStringSubmatch(target)
	if m == nil {
		return "", false
	}
	deviceDir := filepath.Join("/sys", strings.TrimSuffix(m[0], "iscsi_host/"))

	names, err := r.sfs.ReadDir(deviceDir)
	if err != nil {
		return "", false
	}
	for _, name := range names {
		if strings.HasPrefix(name, "session") {
			return strings.TrimPrefix(name, "session"), true
		}
	}
	return "", false
}

func (r *Resolver) iscsiTransportId(hostId string) string {
	sessionId, ok := r.iscsiSessionId(hostId)
	if !ok {
		return ""
	}

	sessionDir := filepath.Join("/sys/class/iscsi_session", "session"+sessionId)
	connDir := filepath.Join("/sys/class/iscsi_connection", fmt.Sprintf("connection%s:0", sessionId))
	if !r.sfs.Exists(sessionDir) || !r.sfs.Exists(connDir) {
		return ""
	}

	address, _ := r.sfs.Read(filepath.Join(connDir, "address"))
	port, _ := r.sfs.Read(filepath.Join(connDir, "port"))
	tpgt, _ := r.sfs.Read(filepath.Join(sessionDir, "tpgt"))
	targetName, _ := r.sfs.Read(filepath.Join(sessionDir, "targetname"))
	iface, _ := r.sfs.Read(filepath.Join(sessionDir, "ifacename"))

	return fmt.Sprintf("%s,%s,%s,%s,%s", address, port, tpgt, targetName, iface)
}

func (r *Resolver) fcTransportId(hostId, kdev string) string {
	scsiId, ok := r.scsiHctlOf(kdev)
	if !ok {
		return ""
	}
	idx := strings.LastIndex(scsiId, ":")
	if idx < 0 {
		return ""
	}
	targetId := scsiId[:idx]

	targetDir := filepath.Join("/sys/class/fc_transport", "target"+targetId)
	hostDir := filepath.Join("/sys/class/fc_host", "host"+hostId)
	if !r.sfs.Exists(targetDir) || !r.sfs.Exists(hostDir) {
		return ""
	}

	targetWwpn, _ := r.sfs.Read(filepath.Join(targetDir, "port_name"))
	hostWwpn, _ := r.sfs.Read(filepath.Join(hostDir, "port_name"))

	return fmt.Sprintf("%s,%s", hostWwpn, targetWwpn)
}

// scsiHctlOf returns the H:C:T:L quartet that owns kdev, by listing the
// scsi_disk class and matching the one whose device/block holder is kdev.
func (r *Resolver) scsiHctlOf(kdev string) (string, bool) {
	hctls, err := r.sfs.ReadDir("/sys/class/scsi_disk")
	if err != nil {
		return "", false
	}
	for _, hctl := range hctls {
		target, err := r.sfs.ReadLink(filepath.Join("/sys/class/scsi_disk", hctl, "device/block"))
		if err != nil {
			continue
		}
		if filepath.Base(target) == kdev {
			return hctl, true
		}
	}
	return "", false
}

// TransportExtension returns supplementary transport metadata for kdev that
// doesn't fit transport_id's fixed wire format (spec.md §3), for the
// multipath parser stage to merge into the event's extension map. Returns
// nil when kdev has no SCSI host (e.g. virtio, local SAS/SATA).
func (r *Resolver) TransportExtension(kdev string) map[string]string {
	hostId, ok := r.scsiHostId(kdev)
	if !ok {
		return nil
	}
	driver := r.scsiDriverName(hostId)
	if driver == "" {
		return nil
	}
	return map[string]string{"driver_name": driver}
}

// scsiDriverName reads the SCSI low-level-driver name for host hostId,
// surfaced in extension["driver_name"] by the multipath parser stage
// (spec.md §3's transport_id wire format omits it, so it never reaches
// transport_id itself).
func (r *Resolver) scsiDriverName(hostId string) string {
	name, _ := r.sfs.Read(filepath.Join("/sys/class/scsi_host", "host"+hostId, "proc_name"))
	return name
}
