package engine

import (
	"github.com/spikeflow/spikeflow/pkg/activation"
	"github.com/spikeflow/spikeflow/pkg/property"
)

// Module groups properties and states under a common name. Property paths
// and state names are prefixed with the module name.
type Module struct {
	name   string
	conf   map[string]any
	props  []*property.Property
	states []*activation.State
}

// NewModule creates a module with default configuration values.
func NewModule(name string, conf map[string]any) *Module {
	if conf == nil {
		conf = make(map[string]any)
	}
	return &Module{name: name, conf: conf}
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Path returns the full path of a property or state of the module.
func (m *Module) Path(name string) string {
	return property.Path(m.name, name)
}

// AddProperty places p under the module.
func (m *Module) AddProperty(p *property.Property) *property.Property {
	p.SetParentPath(m.name)
	m.props = append(m.props, p)
	return p
}

// State declares a state of the module.
func (m *Module) State(name string, body activation.Body, opts ...activation.StateOption) (*activation.State, error) {
	st, err := activation.NewState(m.Path(name), body, opts...)
	if err != nil {
		return nil, err
	}
	st.Module = m.name
	m.states = append(m.states, st)
	return st, nil
}

// States returns the declared states.
func (m *Module) States() []*activation.State {
	out := make([]*activation.State, len(m.states))
	copy(out, m.states)
	return out
}

// Properties returns the module's root properties.
func (m *Module) Properties() []*property.Property {
	out := make([]*property.Property, len(m.props))
	copy(out, m.props)
	return out
}

func (m *Module) defaultConf(key string) (any, bool) {
	v, ok := m.conf[key]
	return v, ok
}
