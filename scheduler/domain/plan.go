// Package domain provides definitions for query plans and schedules as
// the scheduler sees them. Plans arrive fully analyzed and optimized;
// the scheduler only reads node types, fragment boundaries, and scan
// range locations.
package domain

import (
	"fmt"

	"github.com/granitedata/granite/cloud/cluster"
)

type PlanNodeId int

const InvalidPlanNodeId PlanNodeId = -1

type PlanNodeType int

const (
	ScanNode PlanNodeType = iota
	UnionNode
	ExchangeNode
	HashJoinNode
	AggregationNode
	SortNode
)

func (t PlanNodeType) String() string {
	switch t {
	case ScanNode:
		return "SCAN"
	case UnionNode:
		return "UNION"
	case ExchangeNode:
		return "EXCHANGE"
	case HashJoinNode:
		return "HASH_JOIN"
	case AggregationNode:
		return "AGGREGATION"
	case SortNode:
		return "SORT"
	}
	return "UNKNOWN"
}

// PlanNode is one operator in a fragment's plan tree. Exchange nodes are
// leaves within their fragment; their inputs live in sender fragments.
type PlanNode struct {
	Id       PlanNodeId
	Type     PlanNodeType
	Children []*PlanNode

	// Scan-node hints overriding the query options, nil/false when unset.
	ReplicaPreference *ReplicaPreference
	RandomReplica     bool
}

type PartitionType int

const (
	Unpartitioned PartitionType = iota
	HashPartitioned
	RandomPartitioned
)

func (p PartitionType) String() string {
	switch p {
	case Unpartitioned:
		return "UNPARTITIONED"
	case HashPartitioned:
		return "HASH"
	case RandomPartitioned:
		return "RANDOM"
	}
	return "UNKNOWN"
}

type FragmentIdx int

const InvalidFragmentIdx FragmentIdx = -1

// Fragment is a maximal plan subtree with no exchange edges crossing it.
// A non-root fragment sends its output to the exchange node DestExchId
// in fragment DestFragmentIdx.
type Fragment struct {
	Idx       FragmentIdx
	Plan      *PlanNode
	Partition PartitionType

	DestFragmentIdx FragmentIdx // InvalidFragmentIdx for the root fragment
	DestExchId      PlanNodeId
}

func (f *Fragment) String() string {
	return fmt.Sprintf("fragment %d (partition:%s dest:%d exch:%d)",
		f.Idx, f.Partition, f.DestFragmentIdx, f.DestExchId)
}

// ScanRange is a contiguous chunk of table data. The payload is opaque
// to the scheduler; only the length matters for load balancing.
type ScanRange struct {
	Data   []byte
	Length int64
}

// ScanRangeLocation is one replica of a scan range. HostIdx indexes into
// the plan-local host list.
type ScanRangeLocation struct {
	HostIdx  int
	IsCached bool
}

// ScanRangeLocationList is a scan range plus all of its replicas.
type ScanRangeLocationList struct {
	Range     ScanRange
	Locations []ScanRangeLocation
}

// PlanExecInfo is one plan of a query: its fragments (root first), the
// plan-local host list that replica locations index into, and the scan
// ranges per scan node.
type PlanExecInfo struct {
	Fragments          []*Fragment
	HostList           []cluster.NetworkAddress
	ScanRangeLocations map[PlanNodeId][]ScanRangeLocationList
}

// QueryExecRequest is the scheduler's input for one query.
type QueryExecRequest struct {
	QueryId      string
	User         string
	PlanExecInfo []*PlanExecInfo
	Options      QueryOptions
}
