package domain

import (
	"fmt"

	uuid "github.com/nu7hatch/gouuid"

	"github.com/granitedata/granite/cloud/cluster"
)

// NewQueryId mints a unique query id.
func NewQueryId() string {
	id, err := uuid.NewV4()
	if err != nil {
		// gouuid only fails if the system RNG is broken.
		panic(fmt.Sprintf("could not generate query id: %v", err))
	}
	return id.String()
}

// ScanRangeParams is one scheduled scan range: the range plus how the
// chosen backend will read it.
type ScanRangeParams struct {
	Range    ScanRange
	IsCached bool
	IsRemote bool
}

// PerNodeScanRanges maps a scan node to the ranges one backend reads for it.
type PerNodeScanRanges map[PlanNodeId][]ScanRangeParams

// FragmentScanRangeAssignment maps each chosen backend address to its
// scan ranges per plan node, for one fragment.
type FragmentScanRangeAssignment map[cluster.NetworkAddress]PerNodeScanRanges

// FInstanceExecParams is one execution of a fragment on one host.
type FInstanceExecParams struct {
	InstanceId string
	Host       cluster.NetworkAddress

	PerNodeScanRanges PerNodeScanRanges

	// Dense per producing fragment, starting at 0. -1 when the fragment
	// has no output exchange.
	SenderId int
}

func (p *FInstanceExecParams) String() string {
	return fmt.Sprintf("instance %s on %s (sender:%d)", p.InstanceId, p.Host, p.SenderId)
}

// PlanFragmentDestination addresses one receiving instance of an exchange.
type PlanFragmentDestination struct {
	FragmentIdx FragmentIdx
	InstanceIdx int
	Host        cluster.NetworkAddress
}

// FragmentExecParams collects scheduling results for one fragment.
type FragmentExecParams struct {
	Fragment *Fragment

	ScanRangeAssignment FragmentScanRangeAssignment
	Instances           []*FInstanceExecParams

	// Fragments sending into this fragment's exchange nodes.
	InputFragments []FragmentIdx

	// Receivers of this fragment's output exchange, one per consuming
	// instance. Empty for the root fragment.
	Destinations []PlanFragmentDestination

	// Number of senders per input exchange node.
	PerExchNumSenders map[PlanNodeId]int
}

// AssignmentByteCounters tracks how assigned bytes will be read.
type AssignmentByteCounters struct {
	RemoteBytes int64
	LocalBytes  int64
	CachedBytes int64
}

func (c AssignmentByteCounters) String() string {
	return fmt.Sprintf("local:%d remote:%d cached:%d", c.LocalBytes, c.RemoteBytes, c.CachedBytes)
}

// QuerySchedule is the scheduler's output for one query. It is never
// mutated after Schedule returns.
type QuerySchedule struct {
	QueryId     string
	Request     *QueryExecRequest
	RequestPool string

	CoordAddress cluster.NetworkAddress

	// Parallel to Request.PlanExecInfo.
	FragmentParams [][]*FragmentExecParams

	TotalAssignments int64
	LocalAssignments int64
	ByteCounters     AssignmentByteCounters
}

// NumFragmentInstances counts instances across all plans.
func (s *QuerySchedule) NumFragmentInstances() int {
	n := 0
	for _, plan := range s.FragmentParams {
		for _, fp := range plan {
			n += len(fp.Instances)
		}
	}
	return n
}
