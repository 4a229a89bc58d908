package stats

// Instrument names used across the scheduler. Kept in one place so
// dashboards don't chase renames through the code.
const (
	/*
		total number of scan range assignments made over the scheduler's lifetime
	*/
	SchedulerTotalAssignments = "scheduler.total-assignments"

	/*
		scan range assignments whose chosen backend was a replica host
	*/
	SchedulerLocalAssignments = "scheduler.local-assignments"

	/*
		number of backends in the current membership snapshot
	*/
	ClusterMembershipBackendsTotal = "cluster-membership.backends.total"

	/*
		latency of a single Schedule() invocation
	*/
	SchedulerScheduleLatency_ms = "schedulerScheduleLatency_ms"

	/*
		latency of computing scan range assignments for one plan node
	*/
	SchedulerComputeAssignmentLatency_ms = "schedulerComputeAssignmentLatency_ms"

	/*
		bytes assigned to backends holding a local replica, cached reads included
	*/
	SchedulerLocalBytes = "scheduler.assigned-bytes.local"

	/*
		bytes assigned to backends without a local replica
	*/
	SchedulerRemoteBytes = "scheduler.assigned-bytes.remote"

	/*
		bytes assigned to backends reading from a cached replica
	*/
	SchedulerCachedBytes = "scheduler.assigned-bytes.cached"

	/*
		number of membership topic entries that failed to decode
	*/
	ClusterMembershipDecodeFailures = "cluster-membership.decode-failures"

	/*
		number of topic deltas applied since startup
	*/
	ClusterMembershipDeltasApplied = "cluster-membership.deltas-applied"
)
