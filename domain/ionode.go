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

import "os"

type Inode = uint64 // 0 = invalid inode

//
// IOnode is the abstract-class peripetyd uses for every sysfs/procfs/devfs
// resource it touches. All I/O goes through the methods exposed by this
// interface and its derived sub-classes. There are two specializations:
//
// 1. IOnodeFile: a wrapper over os.File/afero.Fs, used in production.
//
// 2. the same type backed by afero.NewMemMapFs(), used in unit tests to
//    build fixture /sys, /dev, /proc trees without touching the real host.
//

type IOServiceType = int

const (
	Unknown          IOServiceType = iota
	IOOsFileService                // production / regular purposes
	IOMemFileService               // unit-testing purposes
)

type IOServiceIface interface {
	NewIOnode(n string, p string, attr os.FileMode) IOnodeIface
	RemoveAllIOnodes() error
	GetServiceType() IOServiceType

	// Symlink registers oldname as the link target of newname, so that
	// Readlink(newname) resolves it. On the real filesystem this creates
	// an OS symlink; the in-memory fixture filesystem has no native symlink
	// support and records the pair in a side-table instead.
	Symlink(oldname, newname string) error
	Readlink(name string) (string, error)
}

type IOnodeIface interface {
	Open() error
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	ReadAt(p []byte, off int64) (n int, err error)
	ReadDirAll() ([]os.FileInfo, error)
	ReadFile() ([]byte, error)
	ReadLine() (string, error)
	WriteFile(p []byte) error
	Mkdir() error
	MkdirAll() error
	Stat() (os.FileInfo, error)
	SeekReset() (int64, error)
	Remove() error
	RemoveAll() error
	//
	// Required getters/setters.
	//
	Name() string
	Path() string
	OpenFlags() int
	OpenMode() os.FileMode
	SetPath(s string)
	SetOpenFlags(flags int)
	SetOpenMode(mode os.FileMode)
}
