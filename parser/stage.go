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

// Package parser implements the subsystem-specific enrichment stages
// (multipath, SCSI, filesystem) that turn a raw, just-classified
// StorageEvent into an enriched one by walking /sys through blkinfo.
package parser

import "github.com/cathay4t/peripetyd-go/domain"

// Subscription declares which event class and subsystems a Stage wants to
// receive. The orchestrator honors this as a routing filter, including for
// the re-offer of already-enriched events as Synthetic to any other stage
// that subscribes to that (class, subsystem) pair.
type Subscription struct {
	Class      domain.EventClass
	SubSystems []domain.StorageSubSystem
}

// Stage enriches one event at a time. A returned ok=false with a nil error
// means "drop silently" (e.g. no stable identifier available); a non-nil
// error means the worker logs and drops, per the failure policy.
//
// A stage subscribed to Synthetic must never itself emit an event of the
// same subsystem it consumed as Synthetic -- that would form the one cycle
// the design explicitly rules out.
type Stage interface {
	Name() string
	Subscribes() Subscription
	Process(ev domain.StorageEvent) (domain.StorageEvent, bool, error)
}

// Accepts reports whether ev matches sub's declared interest.
func (sub Subscription) Accepts(ev domain.StorageEvent) bool {
	if ev.Class != sub.Class {
		return false
	}
	for _, s := range sub.SubSystems {
		if s == ev.SubSystem {
			return true
		}
	}
	return false
}
