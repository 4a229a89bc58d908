package cluster

import (
	"sort"
)

// BackendConfig is an immutable view of the cluster used for one
// scheduling pass. It indexes backends by IP and hostnames to IPs.
// Multiple backends may share an IP (different ports). Build one with
// NewBackendConfig and never mutate it afterwards; the membership
// tracker swaps whole snapshots instead.
type BackendConfig struct {
	// IP address to all backends on that host, sorted by port.
	backendMap map[string][]BackendDescriptor

	// Hostname to IP. The first backend to claim a hostname wins, so the
	// mapping is stable for the lifetime of the snapshot.
	ipByHostname map[string]string

	// Sorted IPs of hosts running at least one executor backend.
	executorIps []string

	numBackends int
}

func NewBackendConfig(backends []BackendDescriptor) *BackendConfig {
	c := &BackendConfig{
		backendMap:   make(map[string][]BackendDescriptor),
		ipByHostname: make(map[string]string),
	}
	for _, be := range backends {
		c.addBackend(be)
	}
	c.finish()
	return c
}

// CoordOnlyBackendConfig returns a snapshot containing only the given
// backend. Used when a plan executes at the coordinator.
func CoordOnlyBackendConfig(coord BackendDescriptor) *BackendConfig {
	return NewBackendConfig([]BackendDescriptor{coord})
}

func (c *BackendConfig) addBackend(be BackendDescriptor) {
	if !be.Valid() {
		return
	}
	c.backendMap[be.IpAddress] = append(c.backendMap[be.IpAddress], be)
	if _, ok := c.ipByHostname[be.Address.Host]; !ok {
		c.ipByHostname[be.Address.Host] = be.IpAddress
	}
	c.numBackends++
}

// finish sorts the per-host lists and builds the executor index. Sorted
// order keeps snapshots deterministic, which scheduling relies on.
func (c *BackendConfig) finish() {
	for ip, bes := range c.backendMap {
		sort.Slice(bes, func(i, j int) bool { return bes[i].Address.Port < bes[j].Address.Port })
		for _, be := range bes {
			if be.IsExecutor {
				c.executorIps = append(c.executorIps, ip)
				break
			}
		}
	}
	sort.Strings(c.executorIps)
}

// LookupBackendIp resolves a host (name or IP) to the IP of a backend in
// this snapshot. Returns false if no backend runs on that host.
func (c *BackendConfig) LookupBackendIp(host string) (string, bool) {
	if _, ok := c.backendMap[host]; ok {
		return host, true
	}
	ip, ok := c.ipByHostname[host]
	return ip, ok
}

// GetBackendsForHost returns all backends on the given IP, sorted by port.
func (c *BackendConfig) GetBackendsForHost(ip string) []BackendDescriptor {
	return c.backendMap[ip]
}

// ExecutorsForHost returns the executor backends on the given IP, sorted
// by port. Coordinator-only backends are excluded so they never receive
// scan work.
func (c *BackendConfig) ExecutorsForHost(ip string) []BackendDescriptor {
	var execs []BackendDescriptor
	for _, be := range c.backendMap[ip] {
		if be.IsExecutor {
			execs = append(execs, be)
		}
	}
	return execs
}

// HasExecutorOnHost reports whether the IP runs at least one executor.
func (c *BackendConfig) HasExecutorOnHost(ip string) bool {
	for _, be := range c.backendMap[ip] {
		if be.IsExecutor {
			return true
		}
	}
	return false
}

// ExecutorIps returns the sorted IPs of all executor hosts. Callers must
// not mutate the returned slice.
func (c *BackendConfig) ExecutorIps() []string {
	return c.executorIps
}

func (c *BackendConfig) NumExecutors() int {
	return len(c.executorIps)
}

func (c *BackendConfig) NumBackends() int {
	return c.numBackends
}

// AllBackends returns every backend in the snapshot, ordered by IP then port.
func (c *BackendConfig) AllBackends() []BackendDescriptor {
	ips := make([]string, 0, len(c.backendMap))
	for ip := range c.backendMap {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	var all []BackendDescriptor
	for _, ip := range ips {
		all = append(all, c.backendMap[ip]...)
	}
	return all
}
