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

package main

import (
	"fmt"
	"os"
	"os/user"
)

const journalGroupName = "systemd-journal"

// checkPermission mirrors the original CLI's access check: root always
// passes, otherwise the caller must belong to the systemd-journal group.
// `-f` bypasses this entirely (handled by the caller).
func checkPermission() error {
	if os.Geteuid() == 0 {
		return nil
	}

	grp, err := user.LookupGroup(journalGroupName)
	if err != nil {
		return fmt.Errorf("permission check failed: %v", err)
	}

	gids, err := os.Getgroups()
	if err != nil {
		return fmt.Errorf("permission check failed: %v", err)
	}
	for _, gid := range gids {
		if fmt.Sprintf("%d", gid) == grp.Gid {
			return nil
		}
	}

	return fmt.Errorf("permission check failed: not root, not in '%s' group; use '-f' to skip this check",
		journalGroupName)
}
