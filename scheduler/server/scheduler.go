// Package server implements the distributed query scheduler: it maps
// scan ranges onto executor backends by memory distance and load, then
// expands plan fragments into placed instances with wired exchanges.
package server

import (
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/granitedata/granite/cloud/cluster"
	cerrors "github.com/granitedata/granite/common/errors"
	"github.com/granitedata/granite/common/stats"
	"github.com/granitedata/granite/scheduler/domain"
)

// MembershipSource yields the current cluster snapshot, typically a
// *cluster.MembershipTracker. One snapshot is read per Schedule call and
// used consistently end to end, so a concurrent membership update never
// mixes into a running pass.
type MembershipSource interface {
	GetSnapshot() *cluster.BackendConfig
}

// PoolResolver maps a user and query options to a request pool before
// scheduling. Resolution failures surface verbatim and the scheduler is
// not invoked.
type PoolResolver interface {
	ResolvePool(user string, opts domain.QueryOptions) (string, error)
}

// defaultPoolResolver accepts every query into its configured pool.
type defaultPoolResolver struct {
	pool string
}

func (r *defaultPoolResolver) ResolvePool(user string, opts domain.QueryOptions) (string, error) {
	if opts.RequestPool != "" {
		return opts.RequestPool, nil
	}
	return r.pool, nil
}

func NewDefaultPoolResolver(pool string) PoolResolver {
	return &defaultPoolResolver{pool: pool}
}

// Scheduler is the entry point for query scheduling. Schedule is
// synchronous, CPU-bound, and reentrant; concurrent queries may schedule
// in parallel against whatever snapshot each one captured.
type Scheduler struct {
	membership      MembershipSource
	localBackend    cluster.BackendDescriptor
	coordOnlyConfig *cluster.BackendConfig
	poolResolver    PoolResolver
	stat            stats.StatsReceiver
}

func NewScheduler(membership MembershipSource, localBackend cluster.BackendDescriptor,
	poolResolver PoolResolver, stat stats.StatsReceiver) *Scheduler {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	if poolResolver == nil {
		poolResolver = NewDefaultPoolResolver("default-pool")
	}
	return &Scheduler{
		membership:      membership,
		localBackend:    localBackend,
		coordOnlyConfig: cluster.CoordOnlyBackendConfig(localBackend),
		poolResolver:    poolResolver,
		stat:            stat,
	}
}

// staticMembership serves a fixed backend list, for clusters configured
// without a statestore and for tests.
type staticMembership struct {
	config *cluster.BackendConfig
}

func (m *staticMembership) GetSnapshot() *cluster.BackendConfig {
	return m.config
}

// NewStaticScheduler builds a scheduler over a fixed set of backends.
func NewStaticScheduler(backends []cluster.BackendDescriptor, localBackend cluster.BackendDescriptor,
	poolResolver PoolResolver, stat stats.StatsReceiver) *Scheduler {
	return NewScheduler(&staticMembership{config: cluster.NewBackendConfig(backends)},
		localBackend, poolResolver, stat)
}

// schedulingSeed derives the RNG seed for a query. An explicit seed wins;
// otherwise the query id hashes to one, so retries of the same query id
// reproduce the same schedule.
func schedulingSeed(req *domain.QueryExecRequest) int64 {
	if req.Options.RandSeed != 0 {
		return req.Options.RandSeed
	}
	h := fnv.New64a()
	h.Write([]byte(req.QueryId))
	return int64(h.Sum64())
}

// Schedule computes a QuerySchedule for the request: one snapshot read,
// scan range assignment per scan node, then fragment expansion.
func (s *Scheduler) Schedule(req *domain.QueryExecRequest) (*domain.QuerySchedule, error) {
	defer s.stat.Latency(stats.SchedulerScheduleLatency_ms).Time().Stop()

	pool, err := s.poolResolver.ResolvePool(req.User, req.Options)
	if err != nil {
		return nil, cerrors.NewError(err, cerrors.PoolResolutionFailed)
	}

	opts := req.Options
	if opts.MtDop < 1 {
		opts.MtDop = 1
	}
	if req.QueryId == "" {
		req.QueryId = domain.NewQueryId()
	}

	snapshot := s.membership.GetSnapshot()
	rng := rand.New(rand.NewSource(schedulingSeed(req)))

	sched := &domain.QuerySchedule{
		QueryId:      req.QueryId,
		Request:      req,
		RequestPool:  pool,
		CoordAddress: s.localBackend.Address,
	}

	for _, planInfo := range req.PlanExecInfo {
		params, err := buildFragmentParams(planInfo)
		if err != nil {
			return nil, err
		}
		owners := scanNodeFragment(planInfo)

		// Scan nodes in id order, so one seed yields one schedule.
		scanIds := make([]domain.PlanNodeId, 0, len(planInfo.ScanRangeLocations))
		for nodeId := range planInfo.ScanRangeLocations {
			scanIds = append(scanIds, nodeId)
		}
		sort.Slice(scanIds, func(i, j int) bool { return scanIds[i] < scanIds[j] })

		for _, nodeId := range scanIds {
			fragIdx, ok := owners[nodeId]
			if !ok {
				return nil, cerrors.NewError(
					errors.Errorf("scan ranges for node %d, but no fragment contains it", nodeId),
					cerrors.MalformedPlan)
			}
			fp := params[fragIdx]
			execAtCoord := fp.Fragment.Partition == domain.Unpartitioned
			node := findPlanNode(fp.Fragment.Plan, nodeId)
			counters, numAssignments, numLocal, err := s.computeScanRangeAssignment(
				snapshot, nodeId, node, planInfo.ScanRangeLocations[nodeId],
				planInfo.HostList, execAtCoord, opts, rng, fp.ScanRangeAssignment)
			if err != nil {
				return nil, err
			}
			sched.ByteCounters.LocalBytes += counters.LocalBytes
			sched.ByteCounters.RemoteBytes += counters.RemoteBytes
			sched.ByteCounters.CachedBytes += counters.CachedBytes
			sched.TotalAssignments += numAssignments
			sched.LocalAssignments += numLocal
		}

		if err := s.computeFragmentExecParams(planInfo, params, sched, opts); err != nil {
			return nil, err
		}
		sched.FragmentParams = append(sched.FragmentParams, params)
	}

	s.stat.Gauge(stats.SchedulerLocalBytes).Update(sched.ByteCounters.LocalBytes)
	s.stat.Gauge(stats.SchedulerRemoteBytes).Update(sched.ByteCounters.RemoteBytes)
	s.stat.Gauge(stats.SchedulerCachedBytes).Update(sched.ByteCounters.CachedBytes)

	log.WithFields(log.Fields{
		"queryID":     sched.QueryId,
		"pool":        sched.RequestPool,
		"assignments": sched.TotalAssignments,
		"local":       sched.LocalAssignments,
		"instances":   sched.NumFragmentInstances(),
	}).Info("Scheduled query")
	return sched, nil
}

func findPlanNode(plan *domain.PlanNode, id domain.PlanNodeId) *domain.PlanNode {
	if plan == nil {
		return nil
	}
	if plan.Id == id {
		return plan
	}
	for _, child := range plan.Children {
		if found := findPlanNode(child, id); found != nil {
			return found
		}
	}
	return nil
}
