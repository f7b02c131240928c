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

package collector

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const kmsgBufferSize = 8192

// Source yields one /dev/kmsg frame per call, blocking until one is
// available. It is the seam fake sources plug into for tests.
type Source interface {
	ReadFrame() (string, error)
	Close() error
}

// KmsgFile is the real Source, a non-blocking /dev/kmsg file descriptor
// waited on with poll(2).
type KmsgFile struct {
	fd int
}

// OpenKmsg opens path (normally "/dev/kmsg") non-blocking and seeks to the
// end, so historical entries already in the ring buffer when the daemon
// started are never delivered as events.
func OpenKmsg(path string) (*KmsgFile, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := unix.Seek(fd, 0, unix.SEEK_END); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}
	return &KmsgFile{fd: fd}, nil
}

// ReadFrame blocks on descriptor readiness and returns exactly one kmsg
// record: the "<prefix>;<msg>" line plus its leading-space dictionary
// lines, all delivered by a single read(2).
func (k *KmsgFile) ReadFrame() (string, error) {
	buf := make([]byte, kmsgBufferSize)
	for {
		n, err := unix.Read(k.fd, buf)
		if err == nil {
			return string(buf[:n]), nil
		}
		switch err {
		case unix.EAGAIN:
			pfd := []unix.PollFd{{Fd: int32(k.fd), Events: unix.POLLIN}}
			if _, perr := unix.Poll(pfd, -1); perr != nil && perr != unix.EINTR {
				return "", perr
			}
		case unix.EPIPE:
			// Ring buffer overrun: some messages were lost between reads.
			// The next read picks back up at the current tail.
		default:
			return "", err
		}
	}
}

func (k *KmsgFile) Close() error {
	return unix.Close(k.fd)
}
