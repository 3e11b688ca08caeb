package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-craft/phd/internal/kube"
	"github.com/open-craft/phd/internal/password"
	"github.com/open-craft/phd/internal/user"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage control-plane users",
	}
	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserUpdateCmd())
	cmd.AddCommand(newUserDeleteCmd())
	return cmd
}

func newUserManager() (*user.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	k, err := kube.New()
	if err != nil {
		return nil, err
	}
	return user.NewManager(k, cfg), nil
}

// restartNotice is printed after any account change; both control planes
// read their account lists at startup.
const restartNotice = "Restart the argo-server and argocd-server deployments for the change to take effect."

func newUserCreateCmd() *cobra.Command {
	var role string
	var passwd string

	cmd := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create a user in both control planes and issue an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := user.ParseRole(role)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			k, err := kube.New()
			if err != nil {
				return err
			}
			mgr := user.NewManager(k, cfg)

			// The admin account can take its password from configuration;
			// when neither is supplied one is generated and printed.
			generated := ""
			if passwd == "" && args[0] == "admin" {
				passwd = cfg.AdminPassword
				if passwd == "" {
					if passwd, err = password.Generate(24); err != nil {
						return err
					}
					generated = passwd
				}
			}

			account, err := mgr.Create(cmd.Context(), args[0], passwd, parsed)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User %s created with role %s.\n", account.Username, account.Role)
			if generated != "" {
				fmt.Fprintf(out, "Generated password:\n%s\n", generated)
			}
			fmt.Fprintf(out, "API token:\n%s\n", account.Token)
			fmt.Fprintln(out, restartNotice)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(user.DefaultRole), "role to grant: admin, developer or readonly")
	cmd.Flags().StringVar(&passwd, "password", "", "password for the new user (prompted when omitted)")
	return cmd
}

func newUserUpdateCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "update USERNAME",
		Short: "Change a user's role in both control planes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := user.ParseRole(role)
			if err != nil {
				return err
			}
			mgr, err := newUserManager()
			if err != nil {
				return err
			}
			if err := mgr.UpdateRole(cmd.Context(), args[0], parsed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s now has role %s.\n", args[0], parsed)
			fmt.Fprintln(cmd.OutOrStdout(), restartNotice)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "new role: admin, developer or readonly")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newUserDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete USERNAME",
		Short: "Remove a user from both control planes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm(cmd, force, fmt.Sprintf("Delete user %q?", args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			mgr, err := newUserManager()
			if err != nil {
				return err
			}
			if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s deleted.\n", args[0])
			fmt.Fprintln(cmd.OutOrStdout(), restartNotice)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}
