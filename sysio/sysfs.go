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

package sysio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cathay4t/peripetyd-go/domain"
)

// Sysfs wraps the IOServiceIface into the four primitive operations the
// block-topology resolver needs: reading a one-line attribute, mapping
// major:minor to a kernel device name, canonicalizing a path, and listing a
// directory. Every method is a total function against domain error kinds;
// there is no caching, matching the resolver's "re-read every time" policy.
type Sysfs struct {
	ios domain.IOServiceIface
}

func NewSysfs(ios domain.IOServiceIface) *Sysfs {
	return &Sysfs{ios: ios}
}

// Read returns the content of path with exactly one trailing newline
// stripped (sysfs attribute files are newline-terminated).
func (s *Sysfs) Read(path string) (string, error) {
	node := s.ios.NewIOnode(filepath.Base(path), path, 0)
	content, err := node.ReadFile()
	if err != nil {
		return "", domain.NewError(domain.InternalBug, "reading %s: %v", path, err)
	}

	str := string(content)
	str = strings.TrimSuffix(str, "\n")

	return str, nil
}

// MajorMinorToKdev resolves "M:m" to the kernel device name by reading the
// /sys/dev/block/M:m symlink and returning its final path component.
func (s *Sysfs) MajorMinorToKdev(majorMinor string) (string, error) {
	path := filepath.Join("/sys/dev/block", majorMinor)

	target, err := s.ios.Readlink(path)
	if err != nil {
		return "", domain.NewError(domain.BlockNoExists, "no /sys/dev/block entry for %s", majorMinor)
	}

	return filepath.Base(target), nil
}

// Canonicalize resolves path to an absolute, symlink-free path.
func (s *Sysfs) Canonicalize(path string) (string, error) {
	type canonicalizer interface {
		Canonicalize(string) (string, error)
	}

	c, ok := s.ios.(canonicalizer)
	if !ok {
		return "", domain.NewError(domain.InternalBug, "io service does not support canonicalization")
	}

	real, err := c.Canonicalize(path)
	if err != nil {
		return "", domain.NewError(domain.BlockNoExists, "cannot canonicalize %s: %v", path, err)
	}

	return real, nil
}

// ReadDir returns the unordered set of entry names under path.
func (s *Sysfs) ReadDir(path string) ([]string, error) {
	node := s.ios.NewIOnode(filepath.Base(path), path, 0)

	entries, err := node.ReadDirAll()
	if err != nil {
		return nil, domain.NewError(domain.BlockNoExists, "cannot list %s: %v", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names, nil
}

// Exists is a convenience used by the resolver to probe optional sysfs
// attributes (e.g. /sys/class/iscsi_host/hostH) without treating their
// absence as an error.
func (s *Sysfs) Exists(path string) bool {
	node := s.ios.NewIOnode(filepath.Base(path), path, 0)
	if _, err := node.Stat(); err != nil {
		return false
	}
	return true
}

// ReadLink is a thin pass-through used where callers need the raw link
// target rather than a fully canonicalized path (e.g. a scsi_disk
// device/block link, where only the final path component is needed).
func (s *Sysfs) ReadLink(path string) (string, error) {
	target, err := s.ios.Readlink(path)
	if err != nil {
		return "", domain.NewError(domain.BlockNoExists, "no symlink at %s: %v", path, err)
	}
	return target, nil
}

func (s *Sysfs) String() string {
	return fmt.Sprintf("Sysfs{type=%v}", s.ios.GetServiceType())
}
