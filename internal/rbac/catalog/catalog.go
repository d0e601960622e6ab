// Package catalog holds the built-in permission catalog, the default built-in
// role map and the demo custom roles.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
)

//go:embed catalog.yaml
var embedded []byte

const wildcard = "*"

// Catalog is the parsed catalog document.
type Catalog struct {
	Modules     []Module            `yaml:"modules"`
	Roles       map[string][]string `yaml:"roles"`
	CustomRoles []CustomRole        `yaml:"customRoles"`

	permissions []rbac.Permission
	byName      map[string]rbac.Permission
}

// Module lists the module-level actions and feature-level actions of one module.
type Module struct {
	Name        string    `yaml:"name"`
	DisplayName string    `yaml:"displayName"`
	Category    string    `yaml:"category"`
	Actions     []string  `yaml:"actions"`
	Features    []Feature `yaml:"features"`
}

// Feature is a sub-area of a module with its own actions.
type Feature struct {
	Name    string   `yaml:"name"`
	Actions []string `yaml:"actions"`
}

// CustomRole is a custom role definition seeded for demo environments.
type CustomRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(embedded)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Permissions returns every catalog permission ordered by name. IDs are zero.
func (c *Catalog) Permissions() []rbac.Permission {
	out := make([]rbac.Permission, len(c.permissions))
	copy(out, c.permissions)
	return out
}

// RoleGrants expands the patterns configured for a built-in role.
func (c *Catalog) RoleGrants(role rbac.BuiltinRole) ([]rbac.Permission, error) {
	patterns, ok := c.Roles[string(role)]
	if !ok {
		return nil, nil
	}
	return c.Expand(patterns)
}

// Expand resolves "*", "module:*" and exact names into catalog permissions.
func (c *Catalog) Expand(patterns []string) ([]rbac.Permission, error) {
	seen := make(map[string]struct{})
	var out []rbac.Permission
	add := func(p rbac.Permission) {
		if _, ok := seen[p.Name]; ok {
			return
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	for _, raw := range patterns {
		pattern := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case pattern == wildcard:
			for _, p := range c.permissions {
				add(p)
			}
		case strings.HasSuffix(pattern, ":"+wildcard):
			module := strings.TrimSuffix(pattern, ":"+wildcard)
			matched := false
			for _, p := range c.permissions {
				if p.Module == module {
					add(p)
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("catalog: pattern %q matches no module", raw)
			}
		default:
			key, err := rbac.ParseKey(pattern)
			if err != nil {
				return nil, fmt.Errorf("catalog: pattern %q: %w", raw, err)
			}
			p, ok := c.byName[key.String()]
			if !ok {
				return nil, fmt.Errorf("catalog: unknown permission %q", raw)
			}
			add(p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) build() error {
	c.byName = make(map[string]rbac.Permission)
	modules := make(map[string]struct{}, len(c.Modules))
	var errs []error
	for _, m := range c.Modules {
		name := strings.ToLower(strings.TrimSpace(m.Name))
		if name == "" || strings.Contains(name, ":") {
			errs = append(errs, fmt.Errorf("catalog: invalid module name %q", m.Name))
			continue
		}
		if _, dup := modules[name]; dup {
			errs = append(errs, fmt.Errorf("catalog: duplicate module %q", name))
			continue
		}
		modules[name] = struct{}{}
		for _, action := range m.Actions {
			errs = append(errs, c.add(m, "", action))
		}
		for _, f := range m.Features {
			for _, action := range f.Actions {
				errs = append(errs, c.add(m, f.Name, action))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	sort.Slice(c.permissions, func(i, j int) bool { return c.permissions[i].Name < c.permissions[j].Name })

	for role, patterns := range c.Roles {
		if _, err := rbac.ParseBuiltinRole(role); err != nil || strings.ToUpper(role) != role {
			errs = append(errs, fmt.Errorf("catalog: unknown built-in role %q", role))
			continue
		}
		if _, err := c.Expand(patterns); err != nil {
			errs = append(errs, fmt.Errorf("catalog: role %s: %w", role, err))
		}
	}
	names := make(map[string]struct{}, len(c.CustomRoles))
	for _, cr := range c.CustomRoles {
		if strings.TrimSpace(cr.Name) == "" {
			errs = append(errs, errors.New("catalog: custom role without name"))
			continue
		}
		if _, dup := names[cr.Name]; dup {
			errs = append(errs, fmt.Errorf("catalog: duplicate custom role %q", cr.Name))
			continue
		}
		names[cr.Name] = struct{}{}
		if _, err := c.Expand(cr.Permissions); err != nil {
			errs = append(errs, fmt.Errorf("catalog: custom role %q: %w", cr.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) add(m Module, feature, action string) error {
	key := rbac.NewKey(m.Name, feature, action)
	if key.Action == "" {
		return fmt.Errorf("catalog: module %q has an empty action", m.Name)
	}
	name := key.String()
	if _, dup := c.byName[name]; dup {
		return fmt.Errorf("catalog: duplicate permission %q", name)
	}
	p := rbac.Permission{
		Module:      key.Module,
		Feature:     key.Feature,
		Action:      key.Action,
		Category:    m.Category,
		Name:        name,
		DisplayName: displayName(m, key),
		IsActive:    true,
	}
	c.byName[name] = p
	c.permissions = append(c.permissions, p)
	return nil
}

func displayName(m Module, key rbac.Key) string {
	label := m.DisplayName
	if label == "" {
		label = m.Name
	}
	if key.Feature != "" {
		return label + " / " + key.Feature + ": " + key.Action
	}
	return label + ": " + key.Action
}
