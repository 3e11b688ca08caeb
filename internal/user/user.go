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
	"fmt"
	"time"

	"github.com/open-craft/phd/internal/config"
	"github.com/open-craft/phd/internal/kube"
	"github.com/open-craft/phd/internal/manifest"
	"github.com/open-craft/phd/internal/policy"
)

// Role is the access level a principal holds in both control planes.
type Role string

const (
	Admin     Role = "admin"
	Developer Role = "developer"
	ReadOnly  Role = "readonly"
)

// DefaultRole is assigned when the caller does not pick one.
const DefaultRole = Developer

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case Admin, Developer, ReadOnly:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q, must be one of: admin, developer, readonly", s)
}

// Control-plane objects holding accounts and grant documents.
const (
	ssoSecret         = "argo-server-sso"
	workflowPolicyMap = "argo-server-rbac-config"
	argocdConfigMap   = "argocd-cm"
	argocdSecret      = "argocd-secret"
	argocdPolicyMap   = "argocd-rbac-cm"
)

// Manager creates, updates and deletes principals across the job engine and
// the deployment controller, keeping both grant documents in sync.
type Manager struct {
	Kube    *kube.Client
	Applier *manifest.Applier
	Policy  *policy.Editor
	Cfg     *config.Config

	// TokenInterval and TokenTimeout bound the wait for the token
	// controller; zero means the defaults.
	TokenInterval time.Duration
	TokenTimeout  time.Duration
}

func NewManager(k *kube.Client, cfg *config.Config) *Manager {
	return &Manager{
		Kube:    k,
		Applier: manifest.NewApplier(k),
		Policy:  &policy.Editor{Kube: k},
		Cfg:     cfg,
	}
}

func roleManifest(role Role) string {
	return fmt.Sprintf("argo-user-%s-role.yml", role)
}

const (
	bindingsManifest    = "argo-user-bindings.yml"
	tokenSecretManifest = "argo-user-token-secret.yml"
)
