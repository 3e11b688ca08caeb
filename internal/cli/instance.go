package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-craft/phd/internal/instance"
)

func newInstanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage application instances",
	}
	cmd.AddCommand(newInstanceCreateCmd())
	cmd.AddCommand(newInstanceDeleteCmd())
	return cmd
}

func newInstanceCreateCmd() *cobra.Command {
	opts := instance.CreateOptions{}
	var extra []string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Provision a new instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts.Extra, err = parseVars(extra)
			if err != nil {
				return err
			}
			if opts.PlatformName == "" {
				opts.PlatformName = name
			}
			orch, err := newOrchestrator(cmd, cfg)
			if err != nil {
				return err
			}
			if err := orch.Create(cmd.Context(), name, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Instance %s created.\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.PlatformName, "platform-name", "", "display name of the platform (defaults to the instance name)")
	cmd.Flags().StringVar(&opts.TemplateRepository, "template-repository", "", "repository holding the instance deployment templates")
	cmd.Flags().StringVar(&opts.TemplateVersion, "template-version", "main", "revision of the template repository to track")
	cmd.Flags().StringVar(&opts.PlatformRepository, "platform-repository", "", "repository of the platform source")
	cmd.Flags().StringVar(&opts.PlatformVersion, "platform-version", "", "version of the platform to deploy")
	cmd.Flags().StringArrayVar(&extra, "var", nil, "extra KEY=VALUE configuration entries (repeatable)")
	return cmd
}

func newInstanceDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Tear down an instance and free its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ok, err := confirm(cmd, force, fmt.Sprintf("Delete instance %q and all of its data?", name))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			orch, err := newOrchestrator(cmd, cfg)
			if err != nil {
				return err
			}
			if err := orch.Delete(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Instance %s deleted.\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}

func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected KEY=VALUE", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
