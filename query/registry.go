package query

import "github.com/como-project/como/module"

// RegistryAdapter satisfies ModuleSource over a module.Registry, the
// production module source: QUERY process builds a fresh RoleQuery
// Module per request, cheap compared to the per-packet cost CAPTURE
// pays for the same registry.
type RegistryAdapter struct {
	Registry *module.Registry
}

func (a RegistryAdapter) Query(name string) (*module.Module, bool) {
	return a.Build(name, module.RoleQuery)
}

func (a RegistryAdapter) Build(name string, role module.Role) (*module.Module, bool) {
	m, err := a.Registry.Build(name, role)
	if err != nil {
		return nil, false
	}
	return m, true
}
