package rbac

import (
	"errors"
	"strings"
)

// ErrInvalidKey is returned for permission keys that are not "module:action" or "module:feature:action".
var ErrInvalidKey = errors.New("rbac: invalid permission key")

// Key addresses a permission by module, optional feature and action.
type Key struct {
	Module  string
	Feature string
	Action  string
}

// NewKey normalises the parts of a key.
func NewKey(module, feature, action string) Key {
	return Key{Module: normalizeToken(module), Feature: normalizeToken(feature), Action: normalizeToken(action)}
}

// ParseKey parses "module:action" or "module:feature:action".
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	var key Key
	switch len(parts) {
	case 2:
		key = NewKey(parts[0], "", parts[1])
	case 3:
		key = NewKey(parts[0], parts[1], parts[2])
		if key.Feature == "" {
			return Key{}, ErrInvalidKey
		}
	default:
		return Key{}, ErrInvalidKey
	}
	if key.Module == "" || key.Action == "" {
		return Key{}, ErrInvalidKey
	}
	return key, nil
}

// String renders the key back into its textual form.
func (k Key) String() string {
	if k.Feature == "" {
		return k.Module + ":" + k.Action
	}
	return k.Module + ":" + k.Feature + ":" + k.Action
}

type moduleAction struct {
	module string
	action string
}

func (k Key) moduleAction() moduleAction {
	return moduleAction{module: k.Module, action: k.Action}
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
