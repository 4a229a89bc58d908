package server

import (
	"math/rand"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/granitedata/granite/cloud/cluster"
	cerrors "github.com/granitedata/granite/common/errors"
	"github.com/granitedata/granite/common/stats"
	"github.com/granitedata/granite/scheduler/domain"
)

// effectiveBaseDistance computes the minimum memory distance for a scan
// node's replicas. disable_cached_reads forces DISK_LOCAL and overrides
// any hint; otherwise the stricter of the query option and the plan-node
// hint applies.
func effectiveBaseDistance(opts domain.QueryOptions, node *domain.PlanNode) domain.ReplicaPreference {
	if opts.DisableCachedReads {
		return domain.DiskLocal
	}
	base := opts.ReplicaPreference
	if node != nil && node.ReplicaPreference != nil && *node.ReplicaPreference > base {
		base = *node.ReplicaPreference
	}
	return base
}

// classifyReplicas buckets a scan range's replicas by memory distance,
// clamped at baseDistance, and returns the minimum observed distance plus
// the executor IPs at that distance. A replica on a host without an
// executor is remote; Remote candidates are not collected since any
// backend serves a remote read equally.
func classifyReplicas(config *cluster.BackendConfig, srl domain.ScanRangeLocationList,
	hostList []cluster.NetworkAddress, baseDistance domain.ReplicaPreference) (domain.ReplicaPreference, []string, error) {

	minDistance := domain.Remote
	var candidates []string
	for _, location := range srl.Locations {
		if location.HostIdx < 0 || location.HostIdx >= len(hostList) {
			return 0, nil, cerrors.NewError(
				errors.Errorf("replica host index %d out of range, host list has %d entries",
					location.HostIdx, len(hostList)),
				cerrors.MalformedPlan)
		}
		replicaHost := hostList[location.HostIdx]
		distance := domain.Remote
		ip, hasBackend := config.LookupBackendIp(replicaHost.Host)
		if hasBackend && config.HasExecutorOnHost(ip) {
			if location.IsCached {
				distance = domain.CacheLocal
			} else {
				distance = domain.DiskLocal
			}
		}
		if distance < baseDistance {
			distance = baseDistance
		}
		if distance == domain.Remote {
			continue
		}
		if distance < minDistance {
			minDistance = distance
			candidates = candidates[:0]
		}
		if distance == minDistance {
			candidates = append(candidates, ip)
		}
	}
	return minDistance, candidates, nil
}

// computeScanRangeAssignment assigns every scan range of one plan node to
// exactly one backend and records the result in 'assignment'.
//
// Ranges with a local replica are processed first so that the trailing
// remote ranges load-balance over the remainder. For each local range the
// replicas at the smallest memory distance compete on assigned bytes;
// ties between cached replicas (and, with schedule_random_replica,
// disk-local ones) break by random rank, disk-local ties otherwise break
// by replica order to keep OS buffer caches warm.
func (s *Scheduler) computeScanRangeAssignment(config *cluster.BackendConfig,
	nodeId domain.PlanNodeId, node *domain.PlanNode,
	locations []domain.ScanRangeLocationList, hostList []cluster.NetworkAddress,
	execAtCoord bool, opts domain.QueryOptions, rng *rand.Rand,
	assignment domain.FragmentScanRangeAssignment) (domain.AssignmentByteCounters, int64, int64, error) {

	defer s.stat.Latency(stats.SchedulerComputeAssignmentLatency_ms).Time().Stop()

	baseDistance := effectiveBaseDistance(opts, node)
	randomReplica := opts.ScheduleRandomReplica || (node != nil && node.RandomReplica)

	totalCtr := s.stat.Counter(stats.SchedulerTotalAssignments)
	localCtr := s.stat.Counter(stats.SchedulerLocalAssignments)

	if execAtCoord {
		ctx := newAssignmentCtx(s.coordOnlyConfig, rng, totalCtr, localCtr)
		for _, srl := range locations {
			minDistance, _, err := classifyReplicas(s.coordOnlyConfig, srl, hostList, baseDistance)
			if err != nil {
				return ctx.byteCounters, 0, 0, err
			}
			isRemote := minDistance == domain.Remote
			isCached := minDistance == domain.CacheLocal
			ctx.recordScanRangeAssignment(s.localBackend, nodeId, srl, isCached, isRemote, assignment)
		}
		return ctx.byteCounters, ctx.numAssignments, ctx.numLocalAssignments, nil
	}

	if config.NumExecutors() == 0 {
		return domain.AssignmentByteCounters{}, 0, 0, cerrors.NewError(
			errors.New("no executors registered in the cluster membership"),
			cerrors.NoExecutors)
	}

	ctx := newAssignmentCtx(config, rng, totalCtr, localCtr)
	var remoteRanges []domain.ScanRangeLocationList
	for _, srl := range locations {
		minDistance, candidates, err := classifyReplicas(config, srl, hostList, baseDistance)
		if err != nil {
			return ctx.byteCounters, ctx.numAssignments, ctx.numLocalAssignments, err
		}
		if len(candidates) == 0 {
			// No replica host runs an executor (or the preference is
			// REMOTE); assign after all local ranges.
			remoteRanges = append(remoteRanges, srl)
			continue
		}
		isCached := minDistance == domain.CacheLocal
		// Cached replicas have no OS buffer cache to keep warm, so their
		// ties always break by rank.
		breakTiesByRank := randomReplica || isCached
		ip := ctx.selectLocalBackendHost(candidates, breakTiesByRank)
		be := ctx.selectBackendOnHost(ip)
		ctx.recordScanRangeAssignment(be, nodeId, srl, isCached, false, assignment)
	}

	for _, srl := range remoteRanges {
		ip := ctx.selectRemoteBackendHost()
		be := ctx.selectBackendOnHost(ip)
		ctx.recordScanRangeAssignment(be, nodeId, srl, false, true, assignment)
	}

	log.WithFields(log.Fields{
		"node":     nodeId,
		"ranges":   len(locations),
		"remote":   len(remoteRanges),
		"counters": ctx.byteCounters.String(),
	}).Debug("Computed scan range assignment")
	return ctx.byteCounters, ctx.numAssignments, ctx.numLocalAssignments, nil
}
