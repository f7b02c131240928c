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
	"strings"

	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/domain"
)

// ScsiStage enriches Raw/Scsi events, resolving with the holder check
// disabled so the event stays attached to the SCSI disk rather than a
// multipath map that may own it.
type ScsiStage struct {
	resolver *blkinfo.Resolver
}

func NewScsiStage(resolver *blkinfo.Resolver) *ScsiStage {
	return &ScsiStage{resolver: resolver}
}

func (s *ScsiStage) Name() string { return "scsi" }

func (s *ScsiStage) Subscribes() Subscription {
	return Subscription{Class: domain.Raw, SubSystems: []domain.StorageSubSystem{domain.SubSystemScsi}}
}

func (s *ScsiStage) Process(ev domain.StorageEvent) (domain.StorageEvent, bool, error) {
	kdev := strings.TrimPrefix(ev.Kdev, "+scsi:")
	if strings.HasPrefix(kdev, "host") {
		// Host-only event, no attached disk to resolve.
		return ev, false, nil
	}

	bi, err := s.resolver.New(kdev, true)
	if err != nil {
		return ev, false, err
	}
	ev.BlkInfo = *bi

	if ev.EventType == "SCSI_SENSE_KEY" {
		switch ev.Extension["sense_key"] {
		case "Medium Error":
			ev.EventType = "SCSI_MEDIUM_ERROR"
		case "Hardware Error":
			ev.EventType = "SCSI_HARDWARE_ERROR"
		}
	}

	return ev, true, nil
}
