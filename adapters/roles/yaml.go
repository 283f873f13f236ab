package roles

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

// Registry is a read-only RoleRegistry loaded from a YAML list
type Registry struct {
	ordered []*entities.RoleProfile
	byID    map[string]*entities.RoleProfile
}

// Ensure Registry implements the RoleRegistry interface
var _ repositories.RoleRegistry = (*Registry)(nil)

// LoadFile reads roles from a YAML file holding a list of role profiles
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML, keeping declaration order
func Parse(data []byte) (*Registry, error) {
	var profiles []*entities.RoleProfile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse roles: %w", err)
	}
	return New(profiles)
}

// New builds a registry from already decoded profiles
func New(profiles []*entities.RoleProfile) (*Registry, error) {
	r := &Registry{byID: make(map[string]*entities.RoleProfile, len(profiles))}
	for i, p := range profiles {
		if p == nil {
			continue
		}
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("role at position %d has an empty id", i)
		}
		if _, exists := r.byID[p.ID]; exists {
			return nil, fmt.Errorf("duplicate role id %q", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		r.byID[p.ID] = p
		r.ordered = append(r.ordered, p)
	}
	return r, nil
}

// GetByID implements repositories.RoleRegistry
func (r *Registry) GetByID(id string) (*entities.RoleProfile, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// List implements repositories.RoleRegistry
func (r *Registry) List() []*entities.RoleProfile {
	out := make([]*entities.RoleProfile, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IDs returns the role ids in declaration order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.ordered))
	for _, p := range r.ordered {
		ids = append(ids, p.ID)
	}
	return ids
}
