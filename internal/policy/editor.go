package policy

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/open-craft/phd/internal/kube"
)

// PolicyKey is the config-map key both control planes keep their grant
// document under.
const PolicyKey = "policy.csv"

// Editor edits the access-policy document held in a control-plane config
// map. Only the policy key is ever written back, never the whole object.
type Editor struct {
	Kube *kube.Client
}

func (e *Editor) Upsert(ctx context.Context, configMap, namespace, principal, role string) error {
	cm, err := e.Kube.ReadConfigMap(ctx, configMap, namespace)
	if err != nil {
		return err
	}
	doc := Parse(cm.Data[PolicyKey])
	doc.UpsertGrant(principal, role)
	rendered := doc.String()
	return e.Kube.PatchConfigMap(ctx, configMap, namespace, map[string]*string{PolicyKey: &rendered})
}

func (e *Editor) Remove(ctx context.Context, configMap, namespace, principal string) error {
	logger := log.FromContext(ctx)

	cm, err := e.Kube.ReadConfigMap(ctx, configMap, namespace)
	if err != nil {
		return err
	}
	raw, ok := cm.Data[PolicyKey]
	if !ok || raw == "" {
		return nil
	}
	doc := Parse(raw)
	doc.RemoveGrant(principal)
	rendered := doc.String()
	if rendered == raw {
		logger.V(1).Info("no grant to remove", "configMap", configMap, "principal", principal)
		return nil
	}
	return e.Kube.PatchConfigMap(ctx, configMap, namespace, map[string]*string{PolicyKey: &rendered})
}
