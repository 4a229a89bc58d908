package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	cerrors "github.com/granitedata/granite/common/errors"
	"github.com/granitedata/granite/scheduler/domain"
)

// twoFragmentPlan is an unpartitioned root consuming a partitioned scan
// fragment through exchange node 10.
func twoFragmentPlan(ranges []domain.ScanRangeLocationList, hostIps ...string) *domain.PlanExecInfo {
	scanId := domain.PlanNodeId(0)
	exchId := domain.PlanNodeId(10)
	return &domain.PlanExecInfo{
		Fragments: []*domain.Fragment{
			{
				Idx:             0,
				Plan:            &domain.PlanNode{Id: 11, Type: domain.AggregationNode, Children: []*domain.PlanNode{{Id: exchId, Type: domain.ExchangeNode}}},
				Partition:       domain.Unpartitioned,
				DestFragmentIdx: domain.InvalidFragmentIdx,
				DestExchId:      domain.InvalidPlanNodeId,
			},
			{
				Idx:             1,
				Plan:            &domain.PlanNode{Id: scanId, Type: domain.ScanNode},
				Partition:       domain.RandomPartitioned,
				DestFragmentIdx: 0,
				DestExchId:      exchId,
			},
		},
		HostList:           datanodeAddrs(hostIps...),
		ScanRangeLocations: map[domain.PlanNodeId][]domain.ScanRangeLocationList{scanId: ranges},
	}
}

// An unpartitioned root with no scans runs as exactly one instance on
// the coordinator, however many executors exist.
func Test_FragmentPlanner_CoordinatorOnlyFragment(t *testing.T) {
	s := testScheduler(testCluster(5))
	plan := &domain.PlanExecInfo{
		Fragments: []*domain.Fragment{{
			Idx:             0,
			Plan:            &domain.PlanNode{Id: 0, Type: domain.AggregationNode},
			Partition:       domain.Unpartitioned,
			DestFragmentIdx: domain.InvalidFragmentIdx,
			DestExchId:      domain.InvalidPlanNodeId,
		}},
	}

	sched, err := s.Schedule(scanRequest(plan, domain.DefaultQueryOptions()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.Equal(t, 1, sched.NumFragmentInstances())
	inst := sched.FragmentParams[0][0].Instances[0]
	assert.Equal(t, sched.CoordAddress, inst.Host)
	assert.Equal(t, -1, inst.SenderId)
}

func Test_FragmentPlanner_ExchangeWiring(t *testing.T) {
	s := testScheduler(testCluster(2))
	plan := twoFragmentPlan([]domain.ScanRangeLocationList{
		scanRange(mb, loc(0)),
		scanRange(mb, loc(1)),
	}, "10.0.0.1", "10.0.0.2")

	sched, err := s.Schedule(scanRequest(plan, domain.DefaultQueryOptions()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	root := sched.FragmentParams[0][0]
	scan := sched.FragmentParams[0][1]

	// One scan instance per assigned host, dense sender ids from 0.
	assert.Equal(t, 2, len(scan.Instances))
	for i, inst := range scan.Instances {
		assert.Equal(t, i, inst.SenderId)
	}

	// The consumer counts every sender of its input exchange.
	assert.Equal(t, len(scan.Instances), root.PerExchNumSenders[domain.PlanNodeId(10)])

	// Every sender addresses the single root instance.
	assert.Equal(t, 1, len(root.Instances))
	assert.Equal(t, 1, len(scan.Destinations))
	assert.Equal(t, domain.FragmentIdx(0), scan.Destinations[0].FragmentIdx)
	assert.Equal(t, 0, scan.Destinations[0].InstanceIdx)
	assert.Equal(t, root.Instances[0].Host, scan.Destinations[0].Host)

	// The root consumes on the coordinator.
	assert.Equal(t, sched.CoordAddress, root.Instances[0].Host)
}

// A partitioned fragment without scans mirrors its single input
// fragment's hosts.
func Test_FragmentPlanner_CollocatedInstances(t *testing.T) {
	s := testScheduler(testCluster(3))
	scanId := domain.PlanNodeId(0)
	plan := &domain.PlanExecInfo{
		Fragments: []*domain.Fragment{
			{
				Idx:             0,
				Plan:            &domain.PlanNode{Id: 30, Type: domain.AggregationNode, Children: []*domain.PlanNode{{Id: 21, Type: domain.ExchangeNode}}},
				Partition:       domain.Unpartitioned,
				DestFragmentIdx: domain.InvalidFragmentIdx,
				DestExchId:      domain.InvalidPlanNodeId,
			},
			{
				Idx:             1,
				Plan:            &domain.PlanNode{Id: 20, Type: domain.AggregationNode, Children: []*domain.PlanNode{{Id: 10, Type: domain.ExchangeNode}}},
				Partition:       domain.HashPartitioned,
				DestFragmentIdx: 0,
				DestExchId:      21,
			},
			{
				Idx:             2,
				Plan:            &domain.PlanNode{Id: scanId, Type: domain.ScanNode},
				Partition:       domain.RandomPartitioned,
				DestFragmentIdx: 1,
				DestExchId:      10,
			},
		},
		HostList: datanodeAddrs("10.0.0.1", "10.0.0.2", "10.0.0.3"),
		ScanRangeLocations: map[domain.PlanNodeId][]domain.ScanRangeLocationList{scanId: {
			scanRange(mb, loc(0)),
			scanRange(mb, loc(1)),
			scanRange(mb, loc(2)),
		}},
	}

	sched, err := s.Schedule(scanRequest(plan, domain.DefaultQueryOptions()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scanParams := sched.FragmentParams[0][2]
	aggParams := sched.FragmentParams[0][1]
	assert.Equal(t, 3, len(scanParams.Instances))
	assert.Equal(t, len(scanParams.Instances), len(aggParams.Instances))
	for i := range aggParams.Instances {
		assert.Equal(t, scanParams.Instances[i].Host, aggParams.Instances[i].Host)
	}

	// The hash exchange fans out: every agg instance is a destination of
	// the scan fragment.
	assert.Equal(t, len(aggParams.Instances), len(scanParams.Destinations))
}

// A union fragment runs on the union of its scan hosts and its input
// fragments' hosts.
func Test_FragmentPlanner_UnionInstances(t *testing.T) {
	s := testScheduler(testCluster(3))
	localScan := domain.PlanNodeId(1)
	inputScan := domain.PlanNodeId(3)
	exchId := domain.PlanNodeId(2)
	plan := &domain.PlanExecInfo{
		Fragments: []*domain.Fragment{
			{
				Idx: 0,
				Plan: &domain.PlanNode{Id: 5, Type: domain.UnionNode, Children: []*domain.PlanNode{
					{Id: localScan, Type: domain.ScanNode},
					{Id: exchId, Type: domain.ExchangeNode},
				}},
				Partition:       domain.RandomPartitioned,
				DestFragmentIdx: domain.InvalidFragmentIdx,
				DestExchId:      domain.InvalidPlanNodeId,
			},
			{
				Idx:             1,
				Plan:            &domain.PlanNode{Id: inputScan, Type: domain.ScanNode},
				Partition:       domain.RandomPartitioned,
				DestFragmentIdx: 0,
				DestExchId:      exchId,
			},
		},
		HostList: datanodeAddrs("10.0.0.1", "10.0.0.2", "10.0.0.3"),
		ScanRangeLocations: map[domain.PlanNodeId][]domain.ScanRangeLocationList{
			// The union's own scan only touches host1.
			localScan: {scanRange(mb, loc(0))},
			// The input fragment's scan runs on hosts 2 and 3.
			inputScan: {scanRange(mb, loc(1)), scanRange(mb, loc(2))},
		},
	}

	sched, err := s.Schedule(scanRequest(plan, domain.DefaultQueryOptions()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	union := sched.FragmentParams[0][0]
	assert.Equal(t, 3, len(union.Instances), "union of scan hosts and input hosts")

	// The instance on host1 carries the union's own scan ranges.
	carried := 0
	for _, inst := range union.Instances {
		carried += len(inst.PerNodeScanRanges[localScan])
	}
	assert.Equal(t, 1, carried)
}

// The leftmost scan drives placement of a hash-join fragment.
func Test_FragmentPlanner_LeftmostScanDrivesJoinFragment(t *testing.T) {
	probeScan := domain.PlanNodeId(0)
	exchId := domain.PlanNodeId(4)
	join := &domain.PlanNode{Id: 5, Type: domain.HashJoinNode, Children: []*domain.PlanNode{
		{Id: probeScan, Type: domain.ScanNode},
		{Id: exchId, Type: domain.ExchangeNode},
	}}
	assert.Equal(t, probeScan, findLeftmostScan(join))

	buildScan := domain.PlanNodeId(2)
	s := testScheduler(testCluster(2))
	plan := &domain.PlanExecInfo{
		Fragments: []*domain.Fragment{
			{
				Idx:             0,
				Plan:            join,
				Partition:       domain.RandomPartitioned,
				DestFragmentIdx: domain.InvalidFragmentIdx,
				DestExchId:      domain.InvalidPlanNodeId,
			},
			{
				Idx:             1,
				Plan:            &domain.PlanNode{Id: buildScan, Type: domain.ScanNode},
				Partition:       domain.RandomPartitioned,
				DestFragmentIdx: 0,
				DestExchId:      exchId,
			},
		},
		HostList: datanodeAddrs("10.0.0.1", "10.0.0.2"),
		ScanRangeLocations: map[domain.PlanNodeId][]domain.ScanRangeLocationList{
			probeScan: {scanRange(mb, loc(0))},
			buildScan: {scanRange(mb, loc(1))},
		},
	}

	sched, err := s.Schedule(scanRequest(plan, domain.DefaultQueryOptions()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The join fragment runs only on the probe scan's host; the build
	// side ships through the exchange.
	joinParams := sched.FragmentParams[0][0]
	assert.Equal(t, 1, len(joinParams.Instances))
	assert.Equal(t, "host1", joinParams.Instances[0].Host.Host)
	assert.Equal(t, 1, joinParams.PerExchNumSenders[exchId])
}

// mt_dop splits a host's ranges into byte-balanced instances.
func Test_FragmentPlanner_MtDopSplitsRanges(t *testing.T) {
	s := testScheduler(testCluster(1))
	var ranges []domain.ScanRangeLocationList
	for i := 0; i < 8; i++ {
		ranges = append(ranges, scanRange(int64(i+1)*mb, loc(0)))
	}
	plan := singleScanPlan(datanodeAddrs("10.0.0.1"), ranges)

	opts := domain.DefaultQueryOptions()
	opts.MtDop = 4
	sched, err := s.Schedule(scanRequest(plan, opts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fp := sched.FragmentParams[0][0]
	assert.Equal(t, 4, len(fp.Instances))

	var totals []int64
	totalRanges := 0
	for _, inst := range fp.Instances {
		var bytes int64
		for _, r := range inst.PerNodeScanRanges[testScanId] {
			bytes += r.Range.Length
			totalRanges++
		}
		totals = append(totals, bytes)
	}
	assert.Equal(t, 8, totalRanges, "every range lands in exactly one instance")

	min, max := totals[0], totals[0]
	for _, b := range totals {
		if b < min {
			min = b
		}
		if b > max {
			max = b
		}
	}
	// Greedy splitting keeps the skew within the largest range.
	if max-min > 8*mb {
		t.Errorf("instance byte skew too large: min %d max %d", min, max)
	}
}

// mt_dop never creates more instances than ranges.
func Test_FragmentPlanner_MtDopCappedByRanges(t *testing.T) {
	s := testScheduler(testCluster(1))
	plan := singleScanPlan(datanodeAddrs("10.0.0.1"),
		[]domain.ScanRangeLocationList{scanRange(mb, loc(0)), scanRange(mb, loc(0))})

	opts := domain.DefaultQueryOptions()
	opts.MtDop = 16
	sched, err := s.Schedule(scanRequest(plan, opts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.Equal(t, 2, len(sched.FragmentParams[0][0].Instances))
}

func Test_FragmentPlanner_MissingInputFragmentIsInternal(t *testing.T) {
	s := testScheduler(testCluster(2))
	plan := &domain.PlanExecInfo{
		Fragments: []*domain.Fragment{{
			Idx:             0,
			Plan:            &domain.PlanNode{Id: 0, Type: domain.AggregationNode, Children: []*domain.PlanNode{{Id: 1, Type: domain.ExchangeNode}}},
			Partition:       domain.HashPartitioned,
			DestFragmentIdx: domain.InvalidFragmentIdx,
			DestExchId:      domain.InvalidPlanNodeId,
		}},
	}

	_, err := s.Schedule(scanRequest(plan, domain.DefaultQueryOptions()))
	if err == nil {
		t.Fatal("expected an internal error for a collocated fragment with no input")
	}
	assert.Equal(t, cerrors.Internal, cerrors.GetCode(err))
}
