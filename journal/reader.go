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

package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cathay4t/peripetyd-go/domain"
	"github.com/coreos/go-systemd/v22/sdjournal"
)

// Filter narrows a Reader query. A zero-valued field is unconstrained.
type Filter struct {
	Since        time.Time
	Severity     domain.LogSeverity
	HasSeverity  bool
	SubSystem    domain.StorageSubSystem
	HasSubSystem bool
	EventType    string
	Block        string
}

// Reader queries Peripety records back out of the systemd journal, used by
// prpt's query/monitor subcommands.
type Reader struct {
	j *sdjournal.Journal
}

func OpenReader() (*Reader, error) {
	j, err := sdjournal.NewJournal()
	if err != nil {
		return nil, domain.NewError(domain.LogAccessError, "opening journal: %v", err)
	}
	if err := j.AddMatch(IsPeripetyField + "=TRUE"); err != nil {
		j.Close()
		return nil, domain.NewError(domain.LogAccessError, "adding journal match: %v", err)
	}
	return &Reader{j: j}, nil
}

func (r *Reader) Close() error { return r.j.Close() }

// Query returns every matching event currently in the journal, oldest
// first, honoring f.
func (r *Reader) Query(f Filter) ([]domain.StorageEvent, error) {
	if f.Since.IsZero() {
		if err := r.j.SeekHead(); err != nil {
			return nil, domain.NewError(domain.LogAccessError, "seeking journal head: %v", err)
		}
	} else {
		if err := r.j.SeekRealtimeUsec(uint64(f.Since.UnixNano() / 1000)); err != nil {
			return nil, domain.NewError(domain.LogAccessError, "seeking journal to %s: %v", f.Since, err)
		}
	}

	var out []domain.StorageEvent
	for {
		n, err := r.j.Next()
		if err != nil {
			return nil, domain.NewError(domain.LogAccessError, "reading journal entry: %v", err)
		}
		if n == 0 {
			break
		}
		entry, err := r.j.GetEntry()
		if err != nil {
			return nil, domain.NewError(domain.LogAccessError, "fetching journal entry: %v", err)
		}
		ev, ok := decodeEntry(entry.Fields)
		if !ok {
			continue
		}
		if !f.Matches(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Monitor seeks to the tail and streams subsequently appended matching
// events on ch until ctx is canceled.
func (r *Reader) Monitor(ctx context.Context, f Filter, ch chan<- domain.StorageEvent) error {
	if err := r.j.SeekTail(); err != nil {
		return domain.NewError(domain.LogAccessError, "seeking journal tail: %v", err)
	}
	// SeekTail positions past the last entry; Next() must be drained once
	// (returns 0) before Wait starts blocking for genuinely new entries.
	if _, err := r.j.Next(); err != nil {
		return domain.NewError(domain.LogAccessError, "draining journal tail: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		status := r.j.Wait(2 * time.Second)
		if status == sdjournal.SD_JOURNAL_NOP {
			continue
		}

		for {
			n, err := r.j.Next()
			if err != nil {
				return domain.NewError(domain.LogAccessError, "reading journal entry: %v", err)
			}
			if n == 0 {
				break
			}
			entry, err := r.j.GetEntry()
			if err != nil {
				return domain.NewError(domain.LogAccessError, "fetching journal entry: %v", err)
			}
			ev, ok := decodeEntry(entry.Fields)
			if !ok || !f.Matches(ev) {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func decodeEntry(fields map[string]string) (domain.StorageEvent, bool) {
	raw, ok := fields["JSON"]
	if !ok {
		return domain.StorageEvent{}, false
	}
	var ev domain.StorageEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return domain.StorageEvent{}, false
	}
	return ev, true
}

// Matches reports whether ev satisfies every constraint f sets.
func (f Filter) Matches(ev domain.StorageEvent) bool {
	if f.HasSeverity && !ev.Severity.AtLeastAsSevereAs(f.Severity) {
		return false
	}
	if f.HasSubSystem && ev.SubSystem != f.SubSystem {
		return false
	}
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.Block != "" && ev.BlkInfo.Wwid != f.Block && ev.BlkInfo.BlkPath != f.Block {
		return false
	}
	return true
}
