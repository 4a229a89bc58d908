// Package cluster tracks the set of backends available for query
// execution. The membership tracker consumes statestore topic deltas and
// publishes immutable BackendConfig snapshots; the scheduler reads one
// snapshot per query and never sees a half-applied update.
package cluster

import (
	"fmt"
	"strconv"
)

// NetworkAddress is a host/port pair. Host may be a hostname or an IP.
type NetworkAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a NetworkAddress) String() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

// BackendId uniquely identifies a backend's statestore registration,
// like 'host:port'. A backend that restarts re-registers under a new id.
type BackendId string

// BackendDescriptor describes one backend process. The resolved IP
// address is the canonical key; Address.Host may be an unresolved
// hostname.
type BackendDescriptor struct {
	Address       NetworkAddress `json:"address"`
	IpAddress     string         `json:"ip_address"`
	IsCoordinator bool           `json:"is_coordinator"`
	IsExecutor    bool           `json:"is_executor"`
}

func (b BackendDescriptor) String() string {
	return fmt.Sprintf("%s (ip:%s coordinator:%t executor:%t)",
		b.Address, b.IpAddress, b.IsCoordinator, b.IsExecutor)
}

// Valid reports whether a decoded descriptor carries enough to be indexed.
func (b BackendDescriptor) Valid() bool {
	return b.IpAddress != "" && b.Address.Host != "" && b.Address.Port > 0
}
