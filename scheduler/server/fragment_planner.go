package server

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/granitedata/granite/cloud/cluster"
	cerrors "github.com/granitedata/granite/common/errors"
	"github.com/granitedata/granite/scheduler/domain"
)

// Plan tree helpers. Exchange nodes are leaves inside a fragment, so a
// plain left-first DFS never crosses a fragment boundary.

func containsNode(plan *domain.PlanNode, nodeType domain.PlanNodeType) bool {
	if plan == nil {
		return false
	}
	if plan.Type == nodeType {
		return true
	}
	for _, child := range plan.Children {
		if containsNode(child, nodeType) {
			return true
		}
	}
	return false
}

// findLeftmostScan returns the first scan node in left-first DFS order,
// or InvalidPlanNodeId. For hash-joined subtrees this is the scan that
// drives fragment placement; the other sides arrive via exchanges.
func findLeftmostScan(plan *domain.PlanNode) domain.PlanNodeId {
	if plan == nil {
		return domain.InvalidPlanNodeId
	}
	if plan.Type == domain.ScanNode {
		return plan.Id
	}
	for _, child := range plan.Children {
		if id := findLeftmostScan(child); id != domain.InvalidPlanNodeId {
			return id
		}
	}
	return domain.InvalidPlanNodeId
}

func findNodes(plan *domain.PlanNode, nodeType domain.PlanNodeType, results *[]*domain.PlanNode) {
	if plan == nil {
		return
	}
	if plan.Type == nodeType {
		*results = append(*results, plan)
	}
	for _, child := range plan.Children {
		findNodes(child, nodeType, results)
	}
}

// buildFragmentParams creates the per-fragment exec params skeleton for
// one plan and wires input fragment lists from the exchange edges.
func buildFragmentParams(planInfo *domain.PlanExecInfo) ([]*domain.FragmentExecParams, error) {
	params := make([]*domain.FragmentExecParams, len(planInfo.Fragments))
	for i, fragment := range planInfo.Fragments {
		if fragment.Idx != domain.FragmentIdx(i) {
			return nil, cerrors.NewError(
				errors.Errorf("fragment at position %d carries index %d", i, fragment.Idx),
				cerrors.MalformedPlan)
		}
		params[i] = &domain.FragmentExecParams{
			Fragment:            fragment,
			ScanRangeAssignment: make(domain.FragmentScanRangeAssignment),
			PerExchNumSenders:   make(map[domain.PlanNodeId]int),
		}
	}
	for _, fragment := range planInfo.Fragments {
		if fragment.DestFragmentIdx == domain.InvalidFragmentIdx {
			continue
		}
		if int(fragment.DestFragmentIdx) >= len(params) {
			return nil, cerrors.NewError(
				errors.Errorf("fragment %d sends to unknown fragment %d", fragment.Idx, fragment.DestFragmentIdx),
				cerrors.MalformedPlan)
		}
		dest := params[fragment.DestFragmentIdx]
		dest.InputFragments = append(dest.InputFragments, fragment.Idx)
	}
	return params, nil
}

// scanNodeFragment maps every scan node id to the fragment containing it.
func scanNodeFragment(planInfo *domain.PlanExecInfo) map[domain.PlanNodeId]domain.FragmentIdx {
	owners := make(map[domain.PlanNodeId]domain.FragmentIdx)
	for _, fragment := range planInfo.Fragments {
		var scans []*domain.PlanNode
		findNodes(fragment.Plan, domain.ScanNode, &scans)
		for _, scan := range scans {
			owners[scan.Id] = fragment.Idx
		}
	}
	return owners
}

// computeFragmentExecParams expands every fragment of a plan into
// instances and wires the exchanges: dense sender ids per producing
// fragment, sender counts per input exchange on the consumer, and
// destinations addressing every consuming instance.
func (s *Scheduler) computeFragmentExecParams(planInfo *domain.PlanExecInfo,
	params []*domain.FragmentExecParams, sched *domain.QuerySchedule, opts domain.QueryOptions) error {

	if len(params) == 0 {
		return cerrors.NewError(errors.New("plan has no fragments"), cerrors.MalformedPlan)
	}
	if err := s.createInstances(planInfo, params[0], params, sched, opts); err != nil {
		return err
	}

	for _, fp := range params {
		fragment := fp.Fragment
		if fragment.DestFragmentIdx == domain.InvalidFragmentIdx {
			continue
		}
		dest := params[fragment.DestFragmentIdx]
		for i, inst := range fp.Instances {
			inst.SenderId = i
		}
		dest.PerExchNumSenders[fragment.DestExchId] += len(fp.Instances)
		for i, dinst := range dest.Instances {
			fp.Destinations = append(fp.Destinations, domain.PlanFragmentDestination{
				FragmentIdx: dest.Fragment.Idx,
				InstanceIdx: i,
				Host:        dinst.Host,
			})
		}
	}
	return nil
}

// createInstances expands one fragment, input fragments first.
func (s *Scheduler) createInstances(planInfo *domain.PlanExecInfo, fp *domain.FragmentExecParams,
	params []*domain.FragmentExecParams, sched *domain.QuerySchedule, opts domain.QueryOptions) error {

	for _, inputIdx := range fp.InputFragments {
		if err := s.createInstances(planInfo, params[inputIdx], params, sched, opts); err != nil {
			return err
		}
	}

	switch {
	case containsNode(fp.Fragment.Plan, domain.UnionNode):
		s.createUnionInstances(fp, params, sched)
	default:
		scanId := findLeftmostScan(fp.Fragment.Plan)
		if scanId != domain.InvalidPlanNodeId {
			if err := s.createScanInstances(scanId, fp, sched, opts); err != nil {
				return err
			}
		} else if fp.Fragment.Partition == domain.Unpartitioned {
			// No scans, not a union: runs as a single instance on the
			// coordinator.
			fp.Instances = append(fp.Instances, s.newInstance(fp, sched, s.localBackend.Address, nil))
		} else {
			if err := s.createCollocatedInstances(fp, params, sched); err != nil {
				return err
			}
		}
	}

	if len(fp.Instances) == 0 {
		return cerrors.NewError(
			errors.Errorf("no instances created for %s", fp.Fragment),
			cerrors.Internal)
	}
	return nil
}

func (s *Scheduler) newInstance(fp *domain.FragmentExecParams, sched *domain.QuerySchedule,
	host cluster.NetworkAddress, perNodeScanRanges domain.PerNodeScanRanges) *domain.FInstanceExecParams {
	return &domain.FInstanceExecParams{
		InstanceId:        fmt.Sprintf("%s#F%02d.%d", sched.QueryId, fp.Fragment.Idx, len(fp.Instances)),
		Host:              host,
		PerNodeScanRanges: perNodeScanRanges,
		SenderId:          -1,
	}
}

// sortedAssignmentHosts returns the hosts of an assignment in a stable
// order so instance creation is deterministic.
func sortedAssignmentHosts(assignment domain.FragmentScanRangeAssignment) []cluster.NetworkAddress {
	hosts := make([]cluster.NetworkAddress, 0, len(assignment))
	for host := range assignment {
		hosts = append(hosts, host)
	}
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Host != hosts[j].Host {
			return hosts[i].Host < hosts[j].Host
		}
		return hosts[i].Port < hosts[j].Port
	})
	return hosts
}

// createScanInstances creates one instance per host the driving scan was
// assigned to. With mt_dop > 1 each host's ranges are split greedily by
// bytes into up to mt_dop instances, targeting equal bytes per instance.
func (s *Scheduler) createScanInstances(scanId domain.PlanNodeId, fp *domain.FragmentExecParams,
	sched *domain.QuerySchedule, opts domain.QueryOptions) error {

	if len(fp.ScanRangeAssignment) == 0 {
		return cerrors.NewError(
			errors.Errorf("scan node %d of %s has no scan range assignment", scanId, fp.Fragment),
			cerrors.Internal)
	}
	mtDop := opts.MtDop
	if mtDop < 1 {
		mtDop = 1
	}
	for _, host := range sortedAssignmentHosts(fp.ScanRangeAssignment) {
		perNode := fp.ScanRangeAssignment[host]
		totalRanges := 0
		for _, ranges := range perNode {
			totalRanges += len(ranges)
		}
		numInstances := mtDop
		if totalRanges < numInstances {
			numInstances = totalRanges
		}
		if numInstances < 1 {
			numInstances = 1
		}

		buckets := make([]domain.PerNodeScanRanges, numInstances)
		bucketBytes := make([]int64, numInstances)
		for i := range buckets {
			buckets[i] = make(domain.PerNodeScanRanges)
		}
		nodeIds := make([]domain.PlanNodeId, 0, len(perNode))
		for nodeId := range perNode {
			nodeIds = append(nodeIds, nodeId)
		}
		sort.Slice(nodeIds, func(i, j int) bool { return nodeIds[i] < nodeIds[j] })
		for _, nodeId := range nodeIds {
			for _, rangeParams := range perNode[nodeId] {
				min := 0
				for i := 1; i < numInstances; i++ {
					if bucketBytes[i] < bucketBytes[min] {
						min = i
					}
				}
				buckets[min][nodeId] = append(buckets[min][nodeId], rangeParams)
				// Zero-length ranges still weigh one byte, so they rotate
				// over the buckets instead of piling onto the first.
				weight := rangeParams.Range.Length
				if weight < 1 {
					weight = 1
				}
				bucketBytes[min] += weight
			}
		}
		for _, bucket := range buckets {
			fp.Instances = append(fp.Instances, s.newInstance(fp, sched, host, bucket))
		}
	}
	return nil
}

// createUnionInstances runs the fragment on the union of (a) hosts its
// scans were assigned to and (b) hosts of every input fragment's
// instances, so partitioned children never lose parallelism.
func (s *Scheduler) createUnionInstances(fp *domain.FragmentExecParams,
	params []*domain.FragmentExecParams, sched *domain.QuerySchedule) {

	for _, host := range unionHosts(fp, params) {
		fp.Instances = append(fp.Instances, s.newInstance(fp, sched, host, fp.ScanRangeAssignment[host]))
	}
}

// unionHosts is the placement rule for union fragments, kept separate so
// it can be narrowed to scan hosts only.
// TODO(scheduling): revisit whether input fragment hosts are needed here.
func unionHosts(fp *domain.FragmentExecParams, params []*domain.FragmentExecParams) []cluster.NetworkAddress {
	seen := make(map[cluster.NetworkAddress]bool)
	for host := range fp.ScanRangeAssignment {
		seen[host] = true
	}
	for _, inputIdx := range fp.InputFragments {
		for _, inst := range params[inputIdx].Instances {
			seen[inst.Host] = true
		}
	}
	hosts := make([]cluster.NetworkAddress, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Host != hosts[j].Host {
			return hosts[i].Host < hosts[j].Host
		}
		return hosts[i].Port < hosts[j].Port
	})
	return hosts
}

// createCollocatedInstances mirrors the single input fragment's
// instances onto the same hosts, preserving the exchange partitioning.
func (s *Scheduler) createCollocatedInstances(fp *domain.FragmentExecParams,
	params []*domain.FragmentExecParams, sched *domain.QuerySchedule) error {

	if len(fp.InputFragments) != 1 {
		return cerrors.NewError(
			errors.Errorf("%s needs exactly one input fragment for collocated placement, has %d",
				fp.Fragment, len(fp.InputFragments)),
			cerrors.Internal)
	}
	for _, inputInst := range params[fp.InputFragments[0]].Instances {
		fp.Instances = append(fp.Instances, s.newInstance(fp, sched, inputInst.Host, nil))
	}
	return nil
}
