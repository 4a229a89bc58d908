package cli

import (
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/granitedata/granite/cloud/cluster/statestore"
)

type backendsCmd struct {
	addr string
}

func (c *backendsCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List the backends a running scheduler daemon knows about",
	}
	cmd.Flags().StringVar(&c.addr, "addr", "http://localhost:25010", "admin http address of the daemon")
	return cmd
}

func (c *backendsCmd) run(cmd *cobra.Command, args []string) error {
	client := statestore.MakePesterClient()
	resp, err := client.Get(c.addr + "/admin/backends.json?pretty=true")
	if err != nil {
		return errors.Wrap(err, "fetching backends")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("daemon returned %d", resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}
