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

package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

// Phase is the lifecycle phase of an instance.
type Phase string

const (
	Provisioning   Phase = "Provisioning"
	Active         Phase = "Active"
	Deprovisioning Phase = "Deprovisioning"
	Deleted        Phase = "Deleted"
)

// Record is the locally persisted configuration record of one instance. The
// name doubles as the instance's namespace.
type Record struct {
	Name   string            `json:"name"`
	Phase  Phase             `json:"phase"`
	Config map[string]string `json:"config"`
}

// Get returns a config value, or the fallback when the key is absent.
func (r *Record) Get(key, fallback string) string {
	if v, ok := r.Config[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Store keeps one record per instance under the instances directory.
type Store struct {
	Dir string
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name, "config.yml")
}

// Exists reports whether a record is present for the instance.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *Store) Load(name string) (*Record, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read record for instance %s: %w", name, err)
	}
	rec := &Record{}
	if err := yaml.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to parse record for instance %s: %w", name, err)
	}
	rec.Name = name
	if rec.Config == nil {
		rec.Config = map[string]string{}
	}
	return rec, nil
}

func (s *Store) Save(rec *Record) error {
	dir := filepath.Join(s.Dir, rec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path(rec.Name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write record for instance %s: %w", rec.Name, err)
	}
	return nil
}

// Remove deletes the instance's directory; absence is not an error.
func (s *Store) Remove(name string) error {
	return os.RemoveAll(filepath.Join(s.Dir, name))
}
