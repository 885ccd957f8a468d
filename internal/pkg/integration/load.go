// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package integration

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load decodes a YAML (or JSON) integration catalog from r and validates it.
func Load(r io.Reader) ([]Integration, error) {
	var catalog []Integration
	if err := yaml.NewDecoder(r).Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode integrations: %w", err)
	}
	if err := Validate(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// LoadFile reads the integration catalog at path.
func LoadFile(path string) ([]Integration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	catalog, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

// Validate reports every integration without a name and every rule without
// a target assembly.
func Validate(catalog []Integration) error {
	var err error
	for idx, i := range catalog {
		if i.Name == "" {
			err = errors.Join(err, fmt.Errorf("integration %d: missing name", idx))
		}
		for j, mr := range i.MethodReplacements {
			if mr.Target.Assembly == "" {
				err = errors.Join(err, fmt.Errorf("integration %q: method replacement %d: missing target assembly", i.Name, j))
			}
		}
	}
	return err
}
