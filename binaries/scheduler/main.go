package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/granitedata/granite/cloud/cluster"
	"github.com/granitedata/granite/cloud/cluster/statestore"
	"github.com/granitedata/granite/common/endpoints"
)

var httpAddr = flag.String("http_addr", "localhost:25010", "Bind address for the admin http server.")
var statestoreURI = flag.String("statestore", "http://localhost:24000", "Statestore root URI.")
var hostname = flag.String("hostname", "localhost", "Hostname this backend advertises.")
var ip = flag.String("ip", "127.0.0.1", "Resolved IP address of this backend.")
var backendPort = flag.Int("be_port", 22000, "Backend service port.")
var isCoordinator = flag.Bool("is_coordinator", true, "Whether this backend coordinates queries.")
var isExecutor = flag.Bool("is_executor", true, "Whether this backend executes fragments.")

func main() {
	log.Info("Starting scheduler daemon")
	flag.Parse()

	stat := endpoints.MakeStatsReceiver("")

	local := cluster.BackendDescriptor{
		Address:       cluster.NetworkAddress{Host: *hostname, Port: *backendPort},
		IpAddress:     *ip,
		IsCoordinator: *isCoordinator,
		IsExecutor:    *isExecutor,
	}
	tracker := cluster.NewMembershipTracker(&local, stat)

	sub := statestore.NewSubscriber(*statestoreURI, &local, tracker)
	go sub.Start()

	admin := endpoints.NewAdminServer(*httpAddr, stat, tracker.RenderBackends)
	log.Fatal(admin.Serve())
}
