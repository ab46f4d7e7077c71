package access

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	RoleAdmin  = "admin"
	RoleBakery = "bakery"
	RoleDevice = "device"
)

//go:embed policy.yaml
var defaultPolicy []byte

type Permission struct {
	Resource string   `yaml:"resource"`
	Actions  []string `yaml:"actions"`
}

type Role struct {
	Description string       `yaml:"description"`
	Permissions []Permission `yaml:"permissions"`
}

type RBACPolicy struct {
	DefaultRole string              `yaml:"default_role"`
	Roles       map[string]Role     `yaml:"roles"`
	Inheritance map[string][]string `yaml:"inheritance"`
}

// RBAC answers whether a role may perform an action on a resource. Roles
// come from the caller's token, so decisions are cached per role.
type RBAC struct {
	mu          sync.RWMutex
	policy      *RBACPolicy
	policyCache map[string]map[string]bool // role -> "resource:action" -> allowed
}

func NewRBAC() *RBAC {
	return &RBAC{policyCache: make(map[string]map[string]bool)}
}

// LoadPolicy reads the policy from a YAML file. An empty path loads the
// built-in policy.
func (r *RBAC) LoadPolicy(path string) error {
	data := defaultPolicy
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return fmt.Errorf("failed to read policy file: %w", err)
		}
	}
	return r.LoadPolicyBytes(data)
}

func (r *RBAC) LoadPolicyBytes(data []byte) error {
	var policy RBACPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	for child, parents := range policy.Inheritance {
		for _, p := range parents {
			if _, ok := policy.Roles[p]; !ok {
				return fmt.Errorf("role %q inherits unknown role %q", child, p)
			}
		}
	}

	r.mu.Lock()
	r.policy = &policy
	r.policyCache = make(map[string]map[string]bool)
	r.mu.Unlock()

	slog.Info("RBAC policy loaded", "roles", len(policy.Roles))
	return nil
}

// Roles expands role with everything it inherits, sorted.
func (r *RBAC) Roles(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles(role)
}

func (r *RBAC) roles(role string) []string {
	if r.policy == nil {
		return nil
	}
	if role == "" {
		role = r.policy.DefaultRole
	}
	if role == "" {
		return nil
	}

	all := map[string]bool{role: true}
	r.addInheritedRoles(role, all)

	result := make([]string, 0, len(all))
	for name := range all {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (r *RBAC) addInheritedRoles(role string, roles map[string]bool) {
	for _, inherited := range r.policy.Inheritance[role] {
		if !roles[inherited] {
			roles[inherited] = true
			r.addInheritedRoles(inherited, roles)
		}
	}
}

// Can checks if role may perform action on resource.
func (r *RBAC) Can(role, resource, action string) bool {
	key := resource + ":" + action

	r.mu.RLock()
	if r.policy == nil {
		r.mu.RUnlock()
		slog.Warn("RBAC policy not loaded")
		return false
	}
	if allowed, found := r.policyCache[role][key]; found {
		r.mu.RUnlock()
		return allowed
	}
	allowed := r.evaluate(role, resource, action)
	r.mu.RUnlock()

	r.mu.Lock()
	if r.policyCache[role] == nil {
		r.policyCache[role] = make(map[string]bool)
	}
	r.policyCache[role][key] = allowed
	r.mu.Unlock()

	return allowed
}

func (r *RBAC) evaluate(role, resource, action string) bool {
	for _, name := range r.roles(role) {
		for _, perm := range r.policy.Roles[name].Permissions {
			if perm.Resource != "*" && perm.Resource != resource {
				continue
			}
			for _, act := range perm.Actions {
				if act == "*" || act == action {
					return true
				}
			}
		}
	}
	return false
}
