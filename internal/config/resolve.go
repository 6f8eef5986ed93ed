package config

import (
	"errors"
	"fmt"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/backend/memory"
)

type section struct {
	role  backend.Role
	specs []BackendSpec
}

func (c *Config) sections() []section {
	return []section{
		{backend.RoleRecord, c.Record},
		{backend.RoleCache, c.Cache},
		{backend.RoleSearch, c.Search},
	}
}

// declaration is a typed backend and the roles it was listed under.
type declaration struct {
	spec  BackendSpec
	roles []backend.Role
}

// resolve pairs declarations with references. Declarations come back in
// file order; memory is never among them.
func (c *Config) resolve() ([]*declaration, error) {
	var (
		errs   []error
		order  []*declaration
		byName = make(map[string]*declaration)
	)

	for _, sec := range c.sections() {
		for _, spec := range sec.specs {
			if spec.Type == "" {
				continue
			}
			if err := checkSpec(spec); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sec.role, err))
				continue
			}
			if spec.Type == TypeMemory {
				continue
			}
			if _, dup := byName[spec.Name]; dup {
				errs = append(errs, fmt.Errorf("%s: backend %q declared twice; later sections may list it by name only", sec.role, spec.Name))
				continue
			}
			d := &declaration{spec: spec}
			byName[spec.Name] = d
			order = append(order, d)
		}
	}

	for _, sec := range c.sections() {
		seen := make(map[string]bool)
		for _, spec := range sec.specs {
			if seen[spec.Name] {
				errs = append(errs, fmt.Errorf("%s: backend %q listed twice", sec.role, spec.Name))
				continue
			}
			seen[spec.Name] = true

			if spec.Type == "" && hasSettings(spec) {
				errs = append(errs, fmt.Errorf("%s: backend %q has settings but no type", sec.role, spec.Name))
				continue
			}
			if spec.Name == memory.DefaultName {
				continue
			}
			d, ok := byName[spec.Name]
			if !ok {
				if spec.Type == "" {
					errs = append(errs, fmt.Errorf("%s: backend %q is not declared", sec.role, spec.Name))
				}
				continue
			}
			if !supports(d.spec.Type, sec.role) {
				errs = append(errs, fmt.Errorf("%s: backend %q of type %s cannot serve the %s role", sec.role, spec.Name, d.spec.Type, sec.role))
				continue
			}
			d.roles = append(d.roles, sec.role)
		}
	}

	return order, errors.Join(errs...)
}

func hasSettings(s BackendSpec) bool {
	return s.Path != "" || len(s.Endpoints) > 0 || s.Namespace != "" || s.DialTimeout != 0
}

func checkSpec(s BackendSpec) error {
	if s.Type != TypeMemory && s.Name == memory.DefaultName {
		return fmt.Errorf("backend name %q is reserved for the memory fallback", s.Name)
	}

	switch s.Type {
	case TypeMemory:
		if s.Name != memory.DefaultName {
			return fmt.Errorf("memory backend must be named %q, got %q", memory.DefaultName, s.Name)
		}
		if hasSettings(s) {
			return fmt.Errorf("memory backend takes no settings")
		}
	case TypeSQLite, TypeFTS:
		if s.Path == "" {
			return fmt.Errorf("backend %q: %s requires path", s.Name, s.Type)
		}
		if len(s.Endpoints) > 0 || s.Namespace != "" || s.DialTimeout != 0 {
			return fmt.Errorf("backend %q: %s takes only path", s.Name, s.Type)
		}
	case TypeEtcd:
		if len(s.Endpoints) == 0 {
			return fmt.Errorf("backend %q: etcd requires endpoints", s.Name)
		}
		if s.Path != "" {
			return fmt.Errorf("backend %q: etcd does not take path", s.Name)
		}
	default:
		return fmt.Errorf("backend %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

func supports(typ string, role backend.Role) bool {
	switch typ {
	case TypeSQLite:
		return role == backend.RoleRecord
	case TypeFTS:
		return role == backend.RoleSearch
	}
	return true
}
