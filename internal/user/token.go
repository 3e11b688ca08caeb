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
	stderrors "errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrTokenTimeout reports that the cluster never populated the principal's
// token secret. The account entries are left in place; the caller can retry
// token issuance without recreating the user.
var ErrTokenTimeout = stderrors.New("token secret was not populated within timeout")

const (
	tokenPollInterval = time.Second
	tokenPollTimeout  = 30 * time.Second
	tokenKey          = "token"
)

func tokenSecretName(username string) string {
	return username + "-token"
}

// issueToken applies the principal's service account, role and token secret
// manifests, waits for the cluster to mint the token, and records it on the
// account entry so the job engine accepts it as an API key.
func (m *Manager) issueToken(ctx context.Context, username string, role Role) (string, error) {
	logger := log.FromContext(ctx)

	if err := m.applyRoleManifests(ctx, username, role); err != nil {
		return "", err
	}
	vars := map[string]string{
		"PHD_ARGO_USERNAME": username,
		"PHD_ARGO_ROLE":     string(role),
	}
	ns := m.Cfg.WorkflowNamespace
	url := m.Cfg.ManifestBaseURL() + "/" + tokenSecretManifest
	if err := m.Applier.ApplyURL(ctx, url, ns, vars); err != nil {
		return "", fmt.Errorf("failed to apply token secret for user %s: %w", username, err)
	}

	token, err := m.waitForToken(ctx, username)
	if err != nil {
		return "", err
	}

	if err := m.Kube.PatchSecret(ctx, ssoSecret, ns, map[string][]byte{
		accountKey(username, "tokens"): []byte(token),
	}); err != nil {
		return "", err
	}
	logger.Info("api token issued", "user", username)
	return token, nil
}

// waitForToken polls the token secret until the token controller fills it in.
func (m *Manager) waitForToken(ctx context.Context, username string) (string, error) {
	logger := log.FromContext(ctx)
	name := tokenSecretName(username)
	ns := m.Cfg.WorkflowNamespace

	interval := m.TokenInterval
	if interval <= 0 {
		interval = tokenPollInterval
	}
	timeout := m.TokenTimeout
	if timeout <= 0 {
		timeout = tokenPollTimeout
	}

	var token string
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true,
		func(ctx context.Context) (bool, error) {
			secret, err := m.Kube.ReadSecret(ctx, name, ns)
			if err != nil {
				logger.V(1).Info("token secret not readable yet", "secret", name)
				return false, nil
			}
			data, ok := secret.Data[tokenKey]
			if !ok || len(data) == 0 {
				return false, nil
			}
			token = string(data)
			return true, nil
		})
	if err != nil {
		return "", fmt.Errorf("%w: secret %s/%s", ErrTokenTimeout, ns, name)
	}
	return token, nil
}
