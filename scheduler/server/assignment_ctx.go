package server

import (
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/granitedata/granite/cloud/cluster"
	"github.com/granitedata/granite/common/stats"
	"github.com/granitedata/granite/scheduler/domain"
)

// assignmentCtx holds the scheduling state for one plan node: the
// addressable heap, a random permutation of executor hosts for rank
// tie-breaking and remote assignment, round-robin cursors for hosts with
// several backends, and byte counters. Created per plan node inside
// computeScanRangeAssignment, so it needs no locking.
type assignmentCtx struct {
	backendConfig *cluster.BackendConfig

	assignmentHeap *addressableAssignmentHeap

	// Rank per executor host, breaking ties between equally loaded hosts.
	randomBackendRank map[string]int

	// The same permutation as a sequence; hosts below firstUnusedBackendIdx
	// have been inserted into the heap.
	randomBackendOrder    []string
	firstUnusedBackendIdx int

	// Round-robin cursor per host, for hosts running several backends.
	nextBackendPerHost map[string]int

	byteCounters domain.AssignmentByteCounters

	numAssignments      int64
	numLocalAssignments int64

	totalAssignments      stats.Counter
	totalLocalAssignments stats.Counter
}

func newAssignmentCtx(config *cluster.BackendConfig, rng *rand.Rand,
	totalAssignments, totalLocalAssignments stats.Counter) *assignmentCtx {
	ips := config.ExecutorIps()
	order := make([]string, len(ips))
	copy(order, ips)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	rank := make(map[string]int, len(order))
	for i, ip := range order {
		rank[ip] = i
	}
	return &assignmentCtx{
		backendConfig:         config,
		assignmentHeap:        newAddressableAssignmentHeap(),
		randomBackendRank:     rank,
		randomBackendOrder:    order,
		nextBackendPerHost:    make(map[string]int),
		totalAssignments:      totalAssignments,
		totalLocalAssignments: totalLocalAssignments,
	}
}

// getBackendRank returns the host's rank in this invocation's
// permutation. Hosts outside the executor set (the coordinator during
// exec-at-coord) sort last.
func (a *assignmentCtx) getBackendRank(ip string) int {
	if rank, ok := a.randomBackendRank[ip]; ok {
		return rank
	}
	return len(a.randomBackendOrder)
}

// selectLocalBackendHost picks, among candidate replica hosts, the one
// with the fewest assigned bytes. Ties go to the lowest rank when
// breakTiesByRank is set, otherwise to the first candidate in input
// order, which keeps repeated scans of the same data on the same host.
func (a *assignmentCtx) selectLocalBackendHost(dataLocations []string, breakTiesByRank bool) string {
	var candidateIdxs []int
	minAssignedBytes := int64(-1)
	for i, ip := range dataLocations {
		assignedBytes, _ := a.assignmentHeap.AssignedBytes(ip)
		if minAssignedBytes < 0 || assignedBytes < minAssignedBytes {
			candidateIdxs = candidateIdxs[:0]
			minAssignedBytes = assignedBytes
		}
		if assignedBytes == minAssignedBytes {
			candidateIdxs = append(candidateIdxs, i)
		}
	}
	minIdx := candidateIdxs[0]
	if breakTiesByRank {
		for _, idx := range candidateIdxs[1:] {
			if a.getBackendRank(dataLocations[idx]) < a.getBackendRank(dataLocations[minIdx]) {
				minIdx = idx
			}
		}
	}
	return dataLocations[minIdx]
}

// selectRemoteBackendHost picks a host for a read with no local replica:
// unused hosts first, in permutation order, then the least-loaded host
// on the heap.
func (a *assignmentCtx) selectRemoteBackendHost() string {
	if a.hasUnusedBackends() {
		return a.getNextUnusedBackendAndIncrement()
	}
	return a.assignmentHeap.Top().ip
}

func (a *assignmentCtx) hasUnusedBackends() bool {
	return a.firstUnusedBackendIdx < len(a.randomBackendOrder)
}

// getNextUnusedBackendAndIncrement assumes the returned host will be
// assigned to; callers must check hasUnusedBackends first.
func (a *assignmentCtx) getNextUnusedBackendAndIncrement() string {
	ip := a.randomBackendOrder[a.firstUnusedBackendIdx]
	a.firstUnusedBackendIdx++
	return ip
}

// selectBackendOnHost round-robins over the executor backends of a host.
func (a *assignmentCtx) selectBackendOnHost(ip string) cluster.BackendDescriptor {
	backends := a.backendConfig.ExecutorsForHost(ip)
	cursor := a.nextBackendPerHost[ip] % len(backends)
	a.nextBackendPerHost[ip] = cursor + 1
	return backends[cursor]
}

// recordScanRangeAssignment appends the scan range to the backend's list
// for the plan node, bumps the heap key, and updates the byte counters.
// Zero-length ranges still count one byte against the heap so the host
// does not soak up every subsequent tie.
func (a *assignmentCtx) recordScanRangeAssignment(be cluster.BackendDescriptor,
	nodeId domain.PlanNodeId, srl domain.ScanRangeLocationList,
	isCached, isRemote bool, assignment domain.FragmentScanRangeAssignment) {

	length := srl.Range.Length
	heapDelta := length
	if heapDelta < 1 {
		heapDelta = 1
	}
	a.assignmentHeap.InsertOrUpdate(be.IpAddress, heapDelta, a.getBackendRank(be.IpAddress))

	scanRanges, ok := assignment[be.Address]
	if !ok {
		scanRanges = make(domain.PerNodeScanRanges)
		assignment[be.Address] = scanRanges
	}
	scanRanges[nodeId] = append(scanRanges[nodeId], domain.ScanRangeParams{
		Range:    srl.Range,
		IsCached: isCached,
		IsRemote: isRemote,
	})

	if isRemote {
		a.byteCounters.RemoteBytes += length
	} else {
		a.byteCounters.LocalBytes += length
		if isCached {
			a.byteCounters.CachedBytes += length
		}
	}
	a.numAssignments++
	a.totalAssignments.Inc(1)
	if !isRemote {
		a.numLocalAssignments++
		a.totalLocalAssignments.Inc(1)
	}

	log.WithFields(log.Fields{
		"node":    nodeId,
		"backend": be.Address.String(),
		"bytes":   length,
		"cached":  isCached,
		"remote":  isRemote,
	}).Debug("Assigned scan range")
}
