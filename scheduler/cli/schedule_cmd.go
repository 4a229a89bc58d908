package cli

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/granitedata/granite/cloud/cluster"
	"github.com/granitedata/granite/common/stats"
	"github.com/granitedata/granite/scheduler/domain"
	"github.com/granitedata/granite/scheduler/server"
)

type scheduleCmd struct {
	backendsFile string
	planFile     string
	seed         int64
	dump         bool
}

func (c *scheduleCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Compute a schedule for a plan against a static backend list",
	}
	cmd.Flags().StringVar(&c.backendsFile, "backends", "", "JSON file with the backend descriptor list")
	cmd.Flags().StringVar(&c.planFile, "plan", "", "JSON file with the query exec request")
	cmd.Flags().Int64Var(&c.seed, "seed", 1, "scheduling RNG seed")
	cmd.Flags().BoolVar(&c.dump, "dump", false, "spew the full schedule instead of a summary")
	return cmd
}

func (c *scheduleCmd) run(cmd *cobra.Command, args []string) error {
	if c.backendsFile == "" || c.planFile == "" {
		return errors.New("both --backends and --plan are required")
	}

	var backends []cluster.BackendDescriptor
	if err := readJson(c.backendsFile, &backends); err != nil {
		return err
	}
	var req domain.QueryExecRequest
	if err := readJson(c.planFile, &req); err != nil {
		return err
	}
	if req.Options.MtDop == 0 {
		req.Options = domain.DefaultQueryOptions()
	}
	req.Options.RandSeed = c.seed

	local := pickCoordinator(backends)
	sched := server.NewStaticScheduler(backends, local, nil, stats.NilStatsReceiver())
	result, err := sched.Schedule(&req)
	if err != nil {
		return err
	}

	if c.dump {
		spew.Dump(result)
		return nil
	}
	fmt.Printf("query %s pool %s coord %s\n", result.QueryId, result.RequestPool, result.CoordAddress)
	fmt.Printf("assignments: %d total, %d local (%s)\n",
		result.TotalAssignments, result.LocalAssignments, result.ByteCounters)
	for planIdx, plan := range result.FragmentParams {
		for _, fp := range plan {
			fmt.Printf("plan %d %s: %d instances\n", planIdx, fp.Fragment, len(fp.Instances))
			for _, inst := range fp.Instances {
				fmt.Printf("  %s\n", inst)
			}
		}
	}
	return nil
}

// pickCoordinator returns the first coordinator backend, or the first
// backend if none is flagged.
func pickCoordinator(backends []cluster.BackendDescriptor) cluster.BackendDescriptor {
	for _, be := range backends {
		if be.IsCoordinator {
			return be
		}
	}
	if len(backends) > 0 {
		return backends[0]
	}
	return cluster.BackendDescriptor{}
}

func readJson(path string, out interface{}) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return nil
}
