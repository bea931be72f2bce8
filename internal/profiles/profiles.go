// SPDX-License-Identifier: Apache-2.0

// Package profiles loads business and customer profiles from a data
// directory laid out as <dir>/businesses/*.yaml and <dir>/customers/*.yaml.
package profiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

var ErrNoProfiles = errors.New("no profiles found")

type Set struct {
	Businesses []domain.Business
	Customers  []domain.Customer
}

// Profiles returns every profile, businesses first.
func (s Set) Profiles() []domain.AgentProfile {
	out := make([]domain.AgentProfile, 0, len(s.Businesses)+len(s.Customers))
	for _, b := range s.Businesses {
		out = append(out, domain.BusinessProfile(b))
	}
	for _, c := range s.Customers {
		out = append(out, domain.CustomerProfile(c))
	}
	return out
}

// Load reads both subdirectories of dataDir. Agent ids must be unique
// across the whole set.
func Load(dataDir string) (Set, error) {
	info, err := os.Stat(dataDir)
	if err != nil {
		return Set{}, fmt.Errorf("data directory %s: %w", dataDir, err)
	}
	if !info.IsDir() {
		return Set{}, fmt.Errorf("data directory %s is not a directory", dataDir)
	}

	businesses, err := LoadBusinesses(filepath.Join(dataDir, "businesses"))
	if err != nil {
		return Set{}, err
	}
	customers, err := LoadCustomers(filepath.Join(dataDir, "customers"))
	if err != nil {
		return Set{}, err
	}

	seen := make(map[string]string, len(businesses)+len(customers))
	for _, p := range (Set{Businesses: businesses, Customers: customers}).Profiles() {
		if prev, ok := seen[p.ID]; ok {
			return Set{}, fmt.Errorf("%w: agent id %q used by %s and %s", domain.ErrDuplicateID, p.ID, prev, p.Kind)
		}
		seen[p.ID] = string(p.Kind)
	}

	return Set{Businesses: businesses, Customers: customers}, nil
}

func LoadBusinesses(dir string) ([]domain.Business, error) {
	return loadDir(dir, func(b domain.Business) error {
		return domain.BusinessProfile(b).Validate()
	}, func(b domain.Business) string { return b.Name })
}

func LoadCustomers(dir string) ([]domain.Customer, error) {
	return loadDir(dir, func(c domain.Customer) error {
		if strings.TrimSpace(c.Request) == "" {
			return fmt.Errorf("%w: customer %s has no request", domain.ErrInvalidAction, c.ID)
		}
		return domain.CustomerProfile(c).Validate()
	}, func(c domain.Customer) string { return c.Name })
}

// loadDir parses *.yaml and *.yml files in file name order.
func loadDir[T any](dir string, validate func(T) error, name func(T) string) ([]T, error) {
	files, err := yamlFiles(dir)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var v T
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := validate(v); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if strings.TrimSpace(name(v)) == "" {
			return nil, fmt.Errorf("%s: %w: name is required", path, domain.ErrInvalidAction)
		}
		out = append(out, v)
	}
	return out, nil
}

func yamlFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("profile directory %s: %w", dir, err)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoProfiles, dir)
	}
	sort.Strings(files)
	return files, nil
}
