package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"randooprun/pkg/models"
)

// packageClasses is the JSON shape printed by `classes --json`.
type packageClasses struct {
	Package  string                   `json:"package"`
	Classes  []models.ClassDescriptor `json:"classes"`
	Warnings []string                 `json:"warnings"`
}

func newClassesCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classes",
		Short: "List the classes that would be passed to the generator",
		Long: `Prints the instantiable classes of each package in the order they would be
passed to the generator, one fully qualified name per line. The tool jar is
not required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.newSession(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer s.close()

			var all []packageClasses
			for _, pkg := range a.cfg.Packages {
				found, err := s.pipeline.Discover(cmd.Context(), a.cfg.RunConfig(pkg))
				if err != nil {
					return err
				}
				pc := packageClasses{Package: pkg, Classes: found.Classes, Warnings: []string{}}
				for _, w := range found.Warnings {
					pc.Warnings = append(pc.Warnings, w.Error())
				}
				all = append(all, pc)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(all)
			}
			for _, pc := range all {
				for _, c := range pc.Classes {
					fmt.Fprintln(out, c.Name)
				}
			}
			return nil
		},
	}
	a.addGenFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print packages, classes and warnings as JSON")
	return cmd
}
