package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/open-craft/phd/internal/config"
	"github.com/open-craft/phd/internal/instance"
	"github.com/open-craft/phd/internal/kube"
	"github.com/open-craft/phd/internal/objectstore"
)

// New builds the phd command tree.
func New() *cobra.Command {
	root := &cobra.Command{
		Use:           "phd",
		Short:         "Provision and manage application instances on a shared cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInstanceCmd())
	root.AddCommand(newUserCmd())
	return root
}

// loadConfig is the shared preamble of every subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newOrchestrator wires the instance orchestrator from live cluster and
// storage clients. A storage client that cannot be built only disables the
// direct-storage paths, it never blocks the command.
func newOrchestrator(cmd *cobra.Command, cfg *config.Config) (*instance.Orchestrator, error) {
	ctx := cmd.Context()
	logger := log.FromContext(ctx)

	k, err := kube.New()
	if err != nil {
		return nil, err
	}
	object, err := objectstore.New(ctx, &cfg.Storage)
	if err != nil {
		logger.Info("storage client unavailable, continuing without it", "error", err.Error())
		object = nil
	}
	store := &instance.Store{Dir: cfg.InstancesDir}
	return instance.NewOrchestrator(k, cfg, store, object), nil
}

// confirm asks for interactive confirmation on stdin unless forced.
func confirm(cmd *cobra.Command, force bool, prompt string) (bool, error) {
	if force {
		return true, nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
