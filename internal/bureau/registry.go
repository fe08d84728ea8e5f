// Package bureau provides the reference customer registry and credit score
// provider used by the KYC and underwriting stages.
package bureau

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ashureev/lendflow/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed seed/customers.yaml
var defaultSeed []byte

type seedFile struct {
	Customers []domain.CustomerRecord `yaml:"customers"`
}

// Registry is an in-memory customer registry indexed by PAN.
type Registry struct {
	mu    sync.RWMutex
	byPAN map[string]domain.CustomerRecord
	byID  map[string]domain.CustomerRecord
}

// NewRegistry builds a registry from records.
func NewRegistry(records []domain.CustomerRecord) (*Registry, error) {
	r := &Registry{
		byPAN: make(map[string]domain.CustomerRecord, len(records)),
		byID:  make(map[string]domain.CustomerRecord, len(records)),
	}
	for _, rec := range records {
		rec.PAN = strings.ToUpper(strings.TrimSpace(rec.PAN))
		if rec.CustomerID == "" || rec.PAN == "" {
			return nil, fmt.Errorf("registry record missing customer_id or pan: %+v", rec)
		}
		if _, dup := r.byPAN[rec.PAN]; dup {
			return nil, fmt.Errorf("duplicate pan %s in registry", rec.PAN)
		}
		r.byPAN[rec.PAN] = rec
		r.byID[rec.CustomerID] = rec
	}
	return r, nil
}

// LoadRegistry reads a YAML seed file. An empty path loads the built-in seed.
func LoadRegistry(path string) (*Registry, error) {
	data := defaultSeed
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read registry seed: %w", err)
		}
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse registry seed: %w", err)
	}
	return NewRegistry(seed.Customers)
}

// LookupByPAN returns the record registered under pan, or nil.
func (r *Registry) LookupByPAN(_ context.Context, pan string) (*domain.CustomerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byPAN[strings.ToUpper(pan)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// LookupByID returns the record for a customer ID, or nil.
func (r *Registry) LookupByID(_ context.Context, customerID string) (*domain.CustomerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[customerID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Len returns the number of registered customers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPAN)
}
