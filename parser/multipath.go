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
	"github.com/cathay4t/peripetyd-go/blkinfo"
	"github.com/cathay4t/peripetyd-go/domain"
)

// MultipathStage enriches Raw/Multipath events. The event's Kdev is the
// major:minor of a path (a SCSI disk); the stage walks that path's holders
// up to its DM multipath map and attaches the map's BlkInfo, plus the
// underlying path's transport metadata.
type MultipathStage struct {
	resolver *blkinfo.Resolver
}

func NewMultipathStage(resolver *blkinfo.Resolver) *MultipathStage {
	return &MultipathStage{resolver: resolver}
}

func (s *MultipathStage) Name() string { return "multipath" }

func (s *MultipathStage) Subscribes() Subscription {
	return Subscription{Class: domain.Raw, SubSystems: []domain.StorageSubSystem{domain.SubSystemMultipath}}
}

func (s *MultipathStage) Process(ev domain.StorageEvent) (domain.StorageEvent, bool, error) {
	pathKdev := ev.Kdev

	// Resolved without the holder check: stays the SCSI path, carrying its
	// own transport_id.
	pathInfo, err := s.resolver.New(pathKdev, true)
	if err != nil {
		return ev, false, err
	}

	// Resolved with the holder check: walks the path's holder up to its DM
	// multipath map, which is what the event should be attached to.
	dmInfo, err := s.resolver.New(pathKdev, false)
	if err != nil {
		return ev, false, err
	}

	ev.BlkInfo = *dmInfo
	if ev.Extension == nil {
		ev.Extension = make(map[string]string)
	}
	// The major:minor was consumed into Kdev (never serialized); surface it
	// back into extension so the journaled event still carries it.
	ev.Extension["blk_major_minor"] = pathKdev
	ev.Extension["transport_id"] = pathInfo.TransportId
	for k, v := range s.resolver.TransportExtension(pathInfo.Kdev()) {
		ev.Extension[k] = v
	}

	return ev, true, nil
}
