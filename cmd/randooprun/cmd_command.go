package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"randooprun/pkg/command"
)

func newCommandCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Print the generator command line without running it",
		Long: `Prints, for each package, the shell command that run would execute. The
output can be pasted into a shell to reproduce a run outside randooprun.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireTool(); err != nil {
				return err
			}
			s, err := a.newSession(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer s.close()

			for _, pkg := range a.cfg.Packages {
				inv, _, err := s.pipeline.Plan(cmd.Context(), a.cfg.RunConfig(pkg))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), command.ShellString(inv))
			}
			return nil
		},
	}
	a.addGenFlags(cmd)
	return cmd
}
