// Package cli implements schedtool, a command-line client for poking at
// the scheduler: compute a schedule offline from JSON inputs, or list
// the backends a running daemon knows about.
package cli

import (
	"github.com/spf13/cobra"
)

type CLIClient interface {
	Exec() error
}

type simpleCLIClient struct {
	rootCmd *cobra.Command
}

func (c *simpleCLIClient) Exec() error {
	return c.rootCmd.Execute()
}

func NewSimpleCLIClient() (CLIClient, error) {
	c := &simpleCLIClient{}
	c.rootCmd = &cobra.Command{
		Use:   "schedtool",
		Short: "schedtool is a command-line client to the query scheduler",
		Run:   func(*cobra.Command, []string) {},
	}

	c.addCmd(&scheduleCmd{})
	c.addCmd(&backendsCmd{})

	return c, nil
}

type command interface {
	registerFlags() *cobra.Command
	run(cmd *cobra.Command, args []string) error
}

func (c *simpleCLIClient) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}
