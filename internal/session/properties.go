package session

import (
	"sync"

	dbus "github.com/godbus/dbus/v5"
)

// propStore backs org.freedesktop.DBus.Properties for one device
// object. Writers are on the loop goroutine; Get/GetAll are invoked
// from the bus dispatch goroutine, hence the mutex. Every property in
// the store is read-only over the bus; mutation goes through feature
// methods, which validate before touching the device.
type propStore struct {
	bus  Bus
	path dbus.ObjectPath

	mu    sync.Mutex
	props map[string]map[string]dbus.Variant
}

func newPropStore(bus Bus, path dbus.ObjectPath) *propStore {
	return &propStore{
		bus:   bus,
		path:  path,
		props: make(map[string]map[string]dbus.Variant),
	}
}

func (p *propStore) export() error {
	return p.bus.Export(p, p.path, ifaceProps)
}

func (p *propStore) unexport() {
	_ = p.bus.Export(nil, p.path, ifaceProps)
}

// set updates one property and emits PropertiesChanged.
func (p *propStore) set(iface, name string, value interface{}) {
	p.setMany(iface, map[string]interface{}{name: value})
}

// setMany updates several properties of one interface and emits a
// single PropertiesChanged signal for all of them.
func (p *propStore) setMany(iface string, values map[string]interface{}) {
	changed := make(map[string]dbus.Variant, len(values))
	p.mu.Lock()
	m := p.props[iface]
	if m == nil {
		m = make(map[string]dbus.Variant)
		p.props[iface] = m
	}
	for name, value := range values {
		v := dbus.MakeVariant(value)
		m[name] = v
		changed[name] = v
	}
	p.mu.Unlock()

	_ = p.bus.Emit(p.path, ifaceProps+".PropertiesChanged", iface, changed, []string{})
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (p *propStore) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.props[iface]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface",
			[]interface{}{iface})
	}
	v, ok := m[name]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty",
			[]interface{}{name})
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (p *propStore) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.props[iface]
	if !ok {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface",
			[]interface{}{iface})
	}
	out := make(map[string]dbus.Variant, len(m))
	for name, v := range m {
		out[name] = v
	}
	return out, nil
}

// Set implements org.freedesktop.DBus.Properties.Set. All exported
// properties are read-only.
func (p *propStore) Set(iface, name string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly",
		[]interface{}{iface + "." + name})
}
