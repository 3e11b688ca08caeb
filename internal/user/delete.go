/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package user

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/open-craft/phd/internal/password"
)

// Delete removes a principal from both control planes and deletes its
// cluster objects. Every step tolerates absence so a partially created or
// partially deleted user can always be cleaned up by re-running.
func (m *Manager) Delete(ctx context.Context, username string) error {
	logger := log.FromContext(ctx)

	username, err := password.SanitizeUsername(username)
	if err != nil {
		return err
	}

	ns := m.Cfg.WorkflowNamespace
	if err := m.Kube.PatchSecret(ctx, ssoSecret, ns, map[string][]byte{
		accountKey(username, "enabled"):  nil,
		accountKey(username, "password"): nil,
		accountKey(username, "tokens"):   nil,
	}); err != nil {
		logger.Info("failed to remove job engine account entries", "user", username, "error", err.Error())
	}
	if err := m.Policy.Remove(ctx, workflowPolicyMap, ns, username); err != nil {
		logger.Info("failed to remove job engine grant", "user", username, "error", err.Error())
	}

	cdNs := m.Cfg.ArgoCDNamespace
	if err := m.Kube.PatchConfigMap(ctx, argocdConfigMap, cdNs, map[string]*string{
		"accounts." + username: nil,
	}); err != nil {
		logger.Info("failed to remove deployment controller account", "user", username, "error", err.Error())
	}
	if err := m.Kube.PatchSecret(ctx, argocdSecret, cdNs, map[string][]byte{
		accountKey(username, "password"): nil,
	}); err != nil {
		logger.Info("failed to remove deployment controller password", "user", username, "error", err.Error())
	}
	if err := m.Policy.Remove(ctx, argocdPolicyMap, cdNs, username); err != nil {
		logger.Info("failed to remove deployment controller grant", "user", username, "error", err.Error())
	}

	if err := m.Kube.DeleteServiceAccount(ctx, username, ns); err != nil {
		return err
	}
	if err := m.Kube.DeleteSecret(ctx, tokenSecretName(username), ns); err != nil {
		return err
	}
	if err := m.Kube.DeleteRole(ctx, username+"-workflows", ns); err != nil {
		return err
	}
	if err := m.Kube.DeleteRoleBinding(ctx, username+"-binding", ns); err != nil {
		return err
	}
	if err := m.Kube.DeleteClusterRole(ctx, username+"-cluster-workflows"); err != nil {
		return err
	}
	if err := m.Kube.DeleteClusterRoleBinding(ctx, username+"-cluster-binding"); err != nil {
		return err
	}

	logger.Info("user deleted", "user", username)
	return nil
}
