package raytracing

import "github.com/spaghettifunk/prism/engine/core"

// RegisterEvents subscribes the manager to object and device events on bus.
// Object events carry an Object as data.
func (m *Manager) RegisterEvents(bus *core.EventBus) {
	bus.Register(core.EVENT_CODE_OBJECT_ADDED, m, onManagerEvent)
	bus.Register(core.EVENT_CODE_OBJECT_REMOVED, m, onManagerEvent)
	bus.Register(core.EVENT_CODE_DEVICE_LOST, m, onManagerEvent)
}

func (m *Manager) UnregisterEvents(bus *core.EventBus) {
	bus.Unregister(core.EVENT_CODE_OBJECT_ADDED, m)
	bus.Unregister(core.EVENT_CODE_OBJECT_REMOVED, m)
	bus.Unregister(core.EVENT_CODE_DEVICE_LOST, m)
}

func onManagerEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	m := listenerInst.(*Manager)
	switch code {
	case core.EVENT_CODE_OBJECT_ADDED:
		if obj, ok := data.Data.(Object); ok {
			m.OnObjectAdded(obj)
		}
	case core.EVENT_CODE_OBJECT_REMOVED:
		if obj, ok := data.Data.(Object); ok {
			m.OnObjectRemoved(obj)
		}
	case core.EVENT_CODE_DEVICE_LOST:
		m.NotifyDeviceLost()
	}
	// Other listeners still need to see the event.
	return false
}
