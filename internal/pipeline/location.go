package pipeline

// Module is an identity token for per-request and per-location storage.
// Two modules never share a key even if they share a name.
type Module struct {
	name string
}

// NewModule creates a module identity
func NewModule(name string) *Module {
	return &Module{name: name}
}

// Name returns the module name used in logs
func (m *Module) Name() string {
	return m.name
}

// Location is a configured route together with the per-module configuration
// that applies to requests matched by it.
type Location struct {
	Name string

	// Content replaces the content phase handlers for this location when set
	Content Handler

	conf map[*Module]any
}

// NewLocation creates an empty location
func NewLocation(name string) *Location {
	return &Location{
		Name: name,
		conf: make(map[*Module]any),
	}
}

// SetConf stores the configuration of module m for this location
func (l *Location) SetConf(m *Module, conf any) {
	l.conf[m] = conf
}

// Conf returns the configuration of module m, or nil
func (l *Location) Conf(m *Module) any {
	if l == nil {
		return nil
	}
	return l.conf[m]
}
