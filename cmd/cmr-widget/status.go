package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/cmr-widget/pkg/persistence/sessionstore"
)

type statusOutput struct {
	ProjectID string `yaml:"project_id"`
	SessionID string `yaml:"session_id,omitempty"`
	Name      string `yaml:"name,omitempty"`
	Store     string `yaml:"store"`
}

func newStatusCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted chat identity for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := a.resolveProject(project)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id, err := sessionstore.LoadIdentity(cmd.Context(), store, pid)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer func() { _ = enc.Close() }()
			if err := enc.Encode(statusOutput{
				ProjectID: id.ProjectID,
				SessionID: id.SessionID,
				Name:      id.Name,
				Store:     a.settings.Store.Backend,
			}); err != nil {
				return errors.Wrap(err, "encode status")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id (defaults to the loader URL's)")
	return cmd
}
