package server

import (
	"fmt"

	"github.com/granitedata/granite/cloud/cluster"
	"github.com/granitedata/granite/common/stats"
	"github.com/granitedata/granite/scheduler/domain"
)

func testBackend(host, ip string, port int, executor, coordinator bool) cluster.BackendDescriptor {
	return cluster.BackendDescriptor{
		Address:       cluster.NetworkAddress{Host: host, Port: port},
		IpAddress:     ip,
		IsCoordinator: coordinator,
		IsExecutor:    executor,
	}
}

// testCluster builds n executor backends 10.0.0.1..n; the first one also
// coordinates.
func testCluster(n int) []cluster.BackendDescriptor {
	var backends []cluster.BackendDescriptor
	for i := 1; i <= n; i++ {
		backends = append(backends,
			testBackend(fmt.Sprintf("host%d", i), fmt.Sprintf("10.0.0.%d", i), 22000, true, i == 1))
	}
	return backends
}

func testScheduler(backends []cluster.BackendDescriptor) *Scheduler {
	return NewStaticScheduler(backends, backends[0], nil, stats.NilStatsReceiver())
}

// datanodeAddrs builds the plan-local host list for the given IPs.
func datanodeAddrs(ips ...string) []cluster.NetworkAddress {
	var addrs []cluster.NetworkAddress
	for _, ip := range ips {
		addrs = append(addrs, cluster.NetworkAddress{Host: ip, Port: 50010})
	}
	return addrs
}

func scanRange(length int64, locations ...domain.ScanRangeLocation) domain.ScanRangeLocationList {
	return domain.ScanRangeLocationList{
		Range:     domain.ScanRange{Length: length},
		Locations: locations,
	}
}

func loc(hostIdx int) domain.ScanRangeLocation {
	return domain.ScanRangeLocation{HostIdx: hostIdx}
}

func cachedLoc(hostIdx int) domain.ScanRangeLocation {
	return domain.ScanRangeLocation{HostIdx: hostIdx, IsCached: true}
}

const testScanId = domain.PlanNodeId(0)

// singleScanPlan is one partitioned fragment whose root is a scan node.
func singleScanPlan(hostList []cluster.NetworkAddress, ranges []domain.ScanRangeLocationList) *domain.PlanExecInfo {
	return &domain.PlanExecInfo{
		Fragments: []*domain.Fragment{{
			Idx:             0,
			Plan:            &domain.PlanNode{Id: testScanId, Type: domain.ScanNode},
			Partition:       domain.RandomPartitioned,
			DestFragmentIdx: domain.InvalidFragmentIdx,
			DestExchId:      domain.InvalidPlanNodeId,
		}},
		HostList:           hostList,
		ScanRangeLocations: map[domain.PlanNodeId][]domain.ScanRangeLocationList{testScanId: ranges},
	}
}

func scanRequest(planInfo *domain.PlanExecInfo, opts domain.QueryOptions) *domain.QueryExecRequest {
	return &domain.QueryExecRequest{
		QueryId:      "test-query",
		User:         "tester",
		PlanExecInfo: []*domain.PlanExecInfo{planInfo},
		Options:      opts,
	}
}

// rangesPerHost flattens a schedule's scan assignment for one plan node.
func rangesPerHost(sched *domain.QuerySchedule, nodeId domain.PlanNodeId) map[string][]domain.ScanRangeParams {
	out := make(map[string][]domain.ScanRangeParams)
	for _, plan := range sched.FragmentParams {
		for _, fp := range plan {
			for host, perNode := range fp.ScanRangeAssignment {
				out[host.Host] = append(out[host.Host], perNode[nodeId]...)
			}
		}
	}
	return out
}

func assignedBytes(ranges []domain.ScanRangeParams) int64 {
	var total int64
	for _, r := range ranges {
		total += r.Range.Length
	}
	return total
}
