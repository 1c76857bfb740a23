package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lecsachurch/registry/pkg/authz"
)

// RoleFile is the YAML document that overrides the built-in role table:
//
//	roles:
//	  admin: [view, add, update, archive, admin]
//	  clerk: [view, add]
type RoleFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadRoles reads a role file. An empty path returns nil, which selects the
// built-in table.
func LoadRoles(path string) (map[string][]authz.Action, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}

	var rf RoleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse roles %s: %w", path, err)
	}
	if len(rf.Roles) == 0 {
		return nil, fmt.Errorf("parse roles %s: no roles defined", path)
	}

	known := make(map[authz.Action]bool, len(authz.AllActions))
	for _, a := range authz.AllActions {
		known[a] = true
	}
	out := make(map[string][]authz.Action, len(rf.Roles))
	for role, actions := range rf.Roles {
		list := make([]authz.Action, 0, len(actions))
		for _, a := range actions {
			if !known[authz.Action(a)] {
				return nil, fmt.Errorf("parse roles %s: role %q has unknown action %q", path, role, a)
			}
			list = append(list, authz.Action(a))
		}
		out[role] = list
	}
	return out, nil
}

// ReloadRoles re-reads the role file into e. On any error e keeps its
// current table.
func ReloadRoles(path string, e *authz.Evaluator) error {
	roles, err := LoadRoles(path)
	if err != nil {
		return err
	}
	e.Replace(roles)
	return nil
}
