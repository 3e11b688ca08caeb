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

package workflow

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Kind is the resource kind a provisioning job is responsible for.
type Kind string

const (
	MySQL   Kind = "mysql"
	MongoDB Kind = "mongodb"
	Storage Kind = "storage"
)

// Kinds is the fixed set of jobs every batch launches.
func Kinds() []Kind {
	return []Kind{MySQL, MongoDB, Storage}
}

// Direction distinguishes provisioning from deprovisioning batches.
type Direction string

const (
	Provision   Direction = "provision"
	Deprovision Direction = "deprovision"
)

// Phase is the observed outcome of a single job.
type Phase string

const (
	Pending   Phase = "Pending"
	Running   Phase = "Running"
	Succeeded Phase = "Succeeded"
	Failed    Phase = "Failed"
	TimedOut  Phase = "TimedOut"
)

var gvk = schema.GroupVersionKind{
	Group:   "argoproj.io",
	Version: "v1alpha1",
	Kind:    "Workflow",
}

// Name is the Workflow object name for a (kind, direction, instance) triple.
// At most one such job may be active at a time.
func Name(kind Kind, direction Direction, instance string) string {
	return fmt.Sprintf("%s-%s-%s", kind, direction, instance)
}

// ManifestFile is the workflow template filename under the manifest base URL.
func ManifestFile(kind Kind, direction Direction) string {
	return fmt.Sprintf("phd-%s-%s-workflow.yml", kind, direction)
}

func newObject(name, namespace string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	obj.SetName(name)
	obj.SetNamespace(namespace)
	return obj
}

// terminal reports whether the workflow reached its Completed condition, and
// the phase it reported. A terminal workflow with any phase other than
// Succeeded counts as failed.
func terminal(obj *unstructured.Unstructured) (bool, string) {
	phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if cond["type"] == "Completed" && cond["status"] == "True" {
			return true, phase
		}
	}
	return false, phase
}
