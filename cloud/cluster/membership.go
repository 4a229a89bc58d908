package cluster

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/granitedata/granite/common/stats"
)

// memberEntry pairs a descriptor with the order it was applied in, so
// that duplicate registrations for one address resolve to the most
// recent writer.
type memberEntry struct {
	desc BackendDescriptor
	seq  int64
}

// MembershipTracker applies membership topic deltas and publishes
// immutable BackendConfig snapshots. Updates arrive on the statestore
// subscriber's callback; readers grab the current snapshot with
// GetSnapshot and keep using it even if a newer one is published
// mid-query.
type MembershipTracker struct {
	stat stats.StatsReceiver

	// The local backend, re-registered if a delta drops it. Nil for
	// pure observers like tests and the schedtool CLI.
	local *BackendDescriptor

	mu      sync.Mutex // serializes UpdateMembership
	current map[BackendId]memberEntry
	seq     int64

	snapshot atomic.Value // holds *BackendConfig
}

func NewMembershipTracker(local *BackendDescriptor, stat stats.StatsReceiver) *MembershipTracker {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	t := &MembershipTracker{
		stat:    stat,
		local:   local,
		current: make(map[BackendId]memberEntry),
	}
	t.publish()
	return t
}

// GetSnapshot returns the current immutable cluster view.
func (t *MembershipTracker) GetSnapshot() *BackendConfig {
	return t.snapshot.Load().(*BackendConfig)
}

// UpdateMembership applies one topic delta and publishes a new snapshot.
// Malformed entries are logged and skipped; the tracker never aborts an
// update halfway.
func (t *MembershipTracker) UpdateMembership(delta TopicDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !delta.IsDelta {
		// Full replacement of the topic contents.
		t.current = make(map[BackendId]memberEntry)
	}
	adds, removals := 0, 0
	for _, entry := range delta.Entries {
		if entry.Deleted {
			if _, ok := t.current[entry.Key]; ok {
				removals++
				delete(t.current, entry.Key)
			}
			continue
		}
		be, err := DecodeBackendDescriptor(entry.Value)
		if err != nil {
			log.WithFields(log.Fields{"key": entry.Key, "err": err}).Error("Skipping undecodable membership entry")
			t.stat.Counter(stats.ClusterMembershipDecodeFailures).Inc(1)
			continue
		}
		t.warnOnDuplicate(entry.Key, be)
		t.seq++
		t.current[entry.Key] = memberEntry{desc: be, seq: t.seq}
		adds++
	}

	if t.local != nil {
		if _, ok := t.current[BackendId(t.local.Address.String())]; !ok {
			log.Infof("Membership delta dropped the local backend %s, re-registering", t.local)
			t.seq++
			t.current[BackendId(t.local.Address.String())] = memberEntry{desc: *t.local, seq: t.seq}
		}
	}

	t.publish()
	t.stat.Counter(stats.ClusterMembershipDeltasApplied).Inc(1)
	if adds > 0 || removals > 0 {
		log.WithFields(log.Fields{
			"adds":     adds,
			"removals": removals,
			"backends": len(t.current),
		}).Info("Applied membership delta")
	}
}

// Two registrations for one address can coexist briefly when a backend
// restarts faster than its old entry expires. The most recent write wins
// at snapshot build time.
func (t *MembershipTracker) warnOnDuplicate(key BackendId, be BackendDescriptor) {
	for id, existing := range t.current {
		if id != key && existing.desc.IpAddress == be.IpAddress &&
			existing.desc.Address.Port == be.Address.Port {
			log.WithFields(log.Fields{
				"existing": id,
				"incoming": key,
				"address":  be.Address,
			}).Warn("Duplicate backend registration, most recent wins")
		}
	}
}

// publish rebuilds the snapshot from current membership and swaps it in.
// Callers hold t.mu.
func (t *MembershipTracker) publish() {
	// Resolve same-address duplicates by keeping the highest sequence.
	latest := make(map[NetworkAddress]memberEntry)
	for _, entry := range t.current {
		addr := NetworkAddress{Host: entry.desc.IpAddress, Port: entry.desc.Address.Port}
		if prev, ok := latest[addr]; !ok || entry.seq > prev.seq {
			latest[addr] = entry
		}
	}
	backends := make([]BackendDescriptor, 0, len(latest))
	for _, entry := range latest {
		backends = append(backends, entry.desc)
	}
	t.snapshot.Store(NewBackendConfig(backends))
	t.stat.Gauge(stats.ClusterMembershipBackendsTotal).Update(int64(len(backends)))
}

// RenderBackends marshals the current snapshot's backends for the admin
// /backends.json endpoint.
func (t *MembershipTracker) RenderBackends(pretty bool) []byte {
	type entry struct {
		Address       string `json:"address"`
		IpAddress     string `json:"ip_address"`
		IsCoordinator bool   `json:"is_coordinator"`
		IsExecutor    bool   `json:"is_executor"`
	}
	snapshot := t.GetSnapshot()
	out := struct {
		Backends []entry `json:"backends"`
	}{Backends: []entry{}}
	for _, be := range snapshot.AllBackends() {
		out.Backends = append(out.Backends, entry{
			Address:       be.Address.String(),
			IpAddress:     be.IpAddress,
			IsCoordinator: be.IsCoordinator,
			IsExecutor:    be.IsExecutor,
		})
	}
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(out, "", "  ")
	} else {
		b, err = json.Marshal(out)
	}
	if err != nil {
		log.Errorf("Cannot marshal backends: %v", err)
		return []byte("{}")
	}
	return b
}
