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

// Package blkinfo implements the block-topology resolver: given any of a
// kernel name, major:minor pair, SCSI H:C:T:L quartet, WWID, filesystem
// UUID, or device/symlink path, it walks /sys, /dev/disk/by-*, and
// /proc/self/mountinfo to produce a fully-enriched domain.BlkInfo,
// including its flattened ownership chain.
package blkinfo

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/cathay4t/peripetyd-go/sysio"
	"github.com/moby/sys/mountinfo"
)

var (
	reSdDisk       = regexp.MustCompile(`^sd[a-z]+$`)
	reSdPartition  = regexp.MustCompile(`^(sd[a-z]+)([0-9]+)$`)
	reHctl         = regexp.MustCompile(`^([0-9]+:){3}[0-9]+$`)
	reMajorMinor   = regexp.MustCompile(`^[0-9]+:[0-9]+$`)
)

// Resolver is the Go equivalent of Peripety's `BlkInfo::new` family of
// associated functions. It holds no state beyond the sysfs accessor: every
// lookup re-reads sysfs since the kernel namespace can change under the
// daemon.
type Resolver struct {
	sfs *sysio.Sysfs
	ios domain.IOServiceIface
}

func NewResolver(ios domain.IOServiceIface) *Resolver {
	return &Resolver{sfs: sysio.NewSysfs(ios), ios: ios}
}

// New is the universal entry point (spec §4.B.1). skipHolderCheck breaks
// the DM holder/slave cycle: recursive calls made while walking DM slaves
// must always pass true.
//
// The returned BlkInfo always carries its filesystem uuid and mount point
// when discoverable, matching the Data Model's stated fields; only the
// recursive resolution internals (resolveScsi, resolveDm, ...) stay
// uuid-blind so the DM slave walk doesn't redundantly re-scan by-uuid for
// every owner.
func (r *Resolver) New(identifier string, skipHolderCheck bool) (*domain.BlkInfo, error) {
	bi, err := r.new(identifier, skipHolderCheck)
	if err != nil {
		return nil, err
	}
	r.attachUuidAndMountPoint(bi)
	return bi, nil
}

// attachUuidAndMountPoint fills in Uuid/MountPoint/PreferredBlkPath best
// effort; a device with no discoverable filesystem uuid keeps them empty.
func (r *Resolver) attachUuidAndMountPoint(bi *domain.BlkInfo) {
	if bi.Uuid == "" {
		if uuid, err := r.Uuid(bi.BlkPath); err == nil {
			bi.Uuid = uuid
		}
	}
	if bi.Uuid != "" {
		bi.PreferredBlkPath = r.PreferredBlkPath(bi.BlkPath, bi.Uuid)
		if mp, err := r.MountPoint(bi.BlkPath); err == nil {
			bi.MountPoint = mp
		}
	}
}

// new is the unexported recursive resolver body (spec §4.B.1); it never
// touches uuid/mount_point itself, leaving that to the New() wrapper.
func (r *Resolver) new(identifier string, skipHolderCheck bool) (*domain.BlkInfo, error) {
	switch {
	case strings.HasPrefix(identifier, "/"):
		real, err := r.sfs.Canonicalize(identifier)
		if err != nil {
			return nil, err
		}
		return r.new(filepath.Base(real), skipHolderCheck)

	case reSdDisk.MatchString(identifier):
		if !skipHolderCheck {
			if dm, ok := r.holderDmName(identifier); ok {
				return r.new(dm, skipHolderCheck)
			}
		}
		return r.resolveScsi(identifier)

	case reSdPartition.MatchString(identifier):
		return r.resolvePartition(identifier)

	case reHctl.MatchString(identifier):
		kdev, err := r.kdevFromHctl(identifier)
		if err != nil {
			return nil, err
		}
		return r.new(kdev, skipHolderCheck)

	case strings.HasPrefix(identifier, "dm-"):
		return r.resolveDm(identifier, skipHolderCheck)

	case reMajorMinor.MatchString(identifier):
		kdev, err := r.sfs.MajorMinorToKdev(identifier)
		if err != nil {
			return nil, err
		}
		return r.new(kdev, skipHolderCheck)
	}

	if r.sfs.Exists(filepath.Join("/dev/disk/by-uuid", identifier)) {
		return r.new(filepath.Join("/dev/disk/by-uuid", identifier), skipHolderCheck)
	}

	if wwid, kdev, ok := r.scanScsiDisksForWwid(identifier); ok {
		_ = wwid
		return r.new(kdev, skipHolderCheck)
	}

	return nil, domain.NewError(domain.NoSupport, "no resolver for identifier %q", identifier)
}

// holderDmName consults /sys/block/<x>/holders/ and returns the first
// holder whose name begins with "dm-", if any.
func (r *Resolver) holderDmName(kdev string) (string, bool) {
	names, err := r.sfs.ReadDir(filepath.Join("/sys/block", kdev, "holders"))
	if err != nil {
		return "", false
	}
	for _, n := range names {
		if strings.HasPrefix(n, "dm-") {
			return n, true
		}
	}
	return "", false
}

func (r *Resolver) kdevFromHctl(hctl string) (string, error) {
	target, err := r.sfs.ReadLink(filepath.Join("/sys/class/scsi_disk", hctl, "device/block"))
	if err != nil {
		return "", domain.NewError(domain.BlockNoExists, "no scsi_disk entry for %s", hctl)
	}
	return filepath.Base(target), nil
}

func (r *Resolver) scanScsiDisksForWwid(want string) (wwid string, kdev string, ok bool) {
	wantPretty := PrettifyWwid(want)

	hctls, err := r.sfs.ReadDir("/sys/class/scsi_disk")
	if err != nil {
		return "", "", false
	}
	for _, hctl := range hctls {
		raw, err := r.sfs.Read(filepath.Join("/sys/class/scsi_disk", hctl, "device/wwid"))
		if err != nil {
			continue
		}
		if PrettifyWwid(raw) == wantPretty {
			k, err := r.kdevFromHctl(hctl)
			if err != nil {
				continue
			}
			return wantPretty, k, true
		}
	}
	return "", "", false
}

// List enumerates /sys/class/block/, resolving every dm-* first and
// subtracting each DmMultipath's owners from the remaining sd* set so a
// multipath map and its paths are never both returned (spec §4.B.2).
func (r *Resolver) List() ([]domain.BlkInfo, error) {
	names, err := r.sfs.ReadDir("/sys/class/block")
	if err != nil {
		return nil, err
	}

	var dmNames, sdNames []string
	for _, n := range names {
		switch {
		case strings.HasPrefix(n, "dm-"):
			dmNames = append(dmNames, n)
		case reSdDisk.MatchString(n):
			sdNames = append(sdNames, n)
		}
	}

	owned := make(map[string]bool)
	var result []domain.BlkInfo

	for _, dm := range dmNames {
		bi, err := r.New(dm, false)
		if err != nil {
			continue
		}
		result = append(result, *bi)
		if bi.BlkType == domain.BlkDmMultipath {
			for _, o := range bi.Owners {
				owned[o.Wwid] = true
			}
		}
	}

	for _, sd := range sdNames {
		bi, err := r.resolveScsi(sd)
		if err != nil {
			continue
		}
		if owned[bi.Wwid] {
			continue
		}
		r.attachUuidAndMountPoint(bi)
		result = append(result, *bi)
	}

	return result, nil
}

// Uuid scans /dev/disk/by-uuid/ and returns the symlink basename whose
// target canonicalizes to path (spec §4.B.3).
func (r *Resolver) Uuid(path string) (string, error) {
	names, err := r.sfs.ReadDir("/dev/disk/by-uuid")
	if err != nil {
		return "", domain.NewError(domain.BlockNoExists, "no /dev/disk/by-uuid directory")
	}

	canonicalPath, err := r.sfs.Canonicalize(path)
	if err != nil {
		canonicalPath = path
	}

	for _, name := range names {
		link := filepath.Join("/dev/disk/by-uuid", name)
		target, err := r.sfs.Canonicalize(link)
		if err != nil {
			continue
		}
		if target == canonicalPath {
			return name, nil
		}
	}

	return "", domain.NewError(domain.BlockNoExists, "no filesystem uuid for %s", path)
}

// MountPoint parses /proc/self/mountinfo and returns the mount point of the
// first entry whose source equals path. Matching is intentionally on the
// raw mountinfo Source field without canonicalization, preserving a
// flagged-but-not-fixed quirk of the original implementation: a device
// mounted via a different /dev/disk/by-* symlink than the one passed in
// will not be found.
func (r *Resolver) MountPoint(path string) (string, error) {
	content, err := r.sfs.Read("/proc/self/mountinfo")
	if err != nil {
		return "", domain.NewError(domain.LogAccessError, "reading mountinfo: %v", err)
	}

	mounts, err := mountinfo.GetMountsFromReader(strings.NewReader(content), func(info *mountinfo.Info) (skip, stop bool) {
		return info.Source != path, false
	})
	if err != nil {
		return "", domain.NewError(domain.LogAccessError, "parsing mountinfo: %v", err)
	}
	if len(mounts) == 0 {
		return "", domain.NewError(domain.BlockNoExists, "no mount entry for %s", path)
	}
	return mounts[0].Mountpoint, nil
}

// PreferredBlkPath picks the stablest user-visible path for realPath: the
// /dev/disk/by-uuid/<uuid> link if a filesystem uuid is already known, else
// a /dev/disk/by-id/ entry, preferring one starting "wwn-", else realPath
// itself (spec §4.B, "Preferred-path rule"). Pass uuid == "" when the
// caller hasn't resolved a filesystem uuid yet.
func (r *Resolver) PreferredBlkPath(realPath, uuid string) string {
	if uuid != "" {
		return filepath.Join("/dev/disk/by-uuid", uuid)
	}

	names, err := r.sfs.ReadDir("/dev/disk/by-id")
	if err != nil {
		return realPath
	}

	var firstMatch string
	for _, name := range names {
		link := filepath.Join("/dev/disk/by-id", name)
		target, err := r.sfs.Canonicalize(link)
		if err != nil || target != realPath {
			continue
		}
		if strings.HasPrefix(name, "wwn-") {
			return link
		}
		if firstMatch == "" {
			firstMatch = link
		}
	}
	if firstMatch != "" {
		return firstMatch
	}
	return realPath
}
