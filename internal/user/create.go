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
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/open-craft/phd/internal/password"
)

// Account is the result of creating a principal. Token is the API token
// minted by the job engine for the principal's service account.
type Account struct {
	Username string
	Role     Role
	Token    string
}

func accountKey(username, field string) string {
	return fmt.Sprintf("accounts.%s.%s", username, field)
}

// Create registers a principal in both control planes: an account entry and
// grant in the job engine, an account entry and grant in the deployment
// controller, and a service account with an API token. The username is
// sanitized first; the returned Account carries the sanitized name.
//
// Both control planes read their account lists at startup, so the caller
// must restart the respective servers before the new login works.
func (m *Manager) Create(ctx context.Context, username, plaintext string, role Role) (*Account, error) {
	logger := log.FromContext(ctx)

	sanitized, err := password.SanitizeUsername(username)
	if err != nil {
		return nil, err
	}
	if sanitized != username {
		logger.Info("username sanitized", "requested", username, "username", sanitized)
	}
	username = sanitized

	if plaintext == "" {
		plaintext, err = password.Prompt(username)
		if err != nil {
			return nil, err
		}
	}
	hash, err := password.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	ns := m.Cfg.WorkflowNamespace
	if err := m.Kube.PatchSecret(ctx, ssoSecret, ns, map[string][]byte{
		accountKey(username, "enabled"):  []byte("true"),
		accountKey(username, "password"): []byte(hash),
	}); err != nil {
		return nil, err
	}
	if err := m.Policy.Upsert(ctx, workflowPolicyMap, ns, username, string(role)); err != nil {
		return nil, err
	}
	logger.Info("job engine account configured", "user", username, "role", role)

	cdNs := m.Cfg.ArgoCDNamespace
	login := "login"
	if err := m.Kube.PatchConfigMap(ctx, argocdConfigMap, cdNs, map[string]*string{
		"accounts." + username: &login,
	}); err != nil {
		return nil, err
	}
	if err := m.Kube.PatchSecret(ctx, argocdSecret, cdNs, map[string][]byte{
		accountKey(username, "password"): []byte(hash),
	}); err != nil {
		return nil, err
	}
	if err := m.Policy.Upsert(ctx, argocdPolicyMap, cdNs, username, string(role)); err != nil {
		return nil, err
	}
	logger.Info("deployment controller account configured", "user", username, "role", role)

	token, err := m.issueToken(ctx, username, role)
	if err != nil {
		return nil, err
	}

	return &Account{Username: username, Role: role, Token: token}, nil
}

// UpdateRole changes an existing principal's role in both control planes and
// re-applies the role's cluster access manifests.
func (m *Manager) UpdateRole(ctx context.Context, username string, role Role) error {
	logger := log.FromContext(ctx)

	username, err := password.SanitizeUsername(username)
	if err != nil {
		return err
	}

	if err := m.applyRoleManifests(ctx, username, role); err != nil {
		return err
	}
	ns := m.Cfg.WorkflowNamespace
	if err := m.Policy.Upsert(ctx, workflowPolicyMap, ns, username, string(role)); err != nil {
		return err
	}
	if err := m.Policy.Upsert(ctx, argocdPolicyMap, m.Cfg.ArgoCDNamespace, username, string(role)); err != nil {
		return err
	}
	logger.Info("user role updated", "user", username, "role", role)
	return nil
}

// applyRoleManifests applies the role and binding templates for a principal
// into the job engine namespace.
func (m *Manager) applyRoleManifests(ctx context.Context, username string, role Role) error {
	vars := map[string]string{
		"PHD_ARGO_USERNAME": username,
		"PHD_ARGO_ROLE":     string(role),
	}
	ns := m.Cfg.WorkflowNamespace
	base := m.Cfg.ManifestBaseURL()
	for _, file := range []string{roleManifest(role), bindingsManifest} {
		if err := m.Applier.ApplyURL(ctx, base+"/"+file, ns, vars); err != nil {
			return fmt.Errorf("failed to apply %s for user %s: %w", file, username, err)
		}
	}
	return nil
}
