package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	appName            = "feedbell"
	notificationsDest  = "org.freedesktop.Notifications"
	notificationsIface = "org.freedesktop.Notifications"
	notificationsPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod       = "org.freedesktop.Notifications.Notify"
	actionInvokedName  = "org.freedesktop.Notifications.ActionInvoked"
	notifClosedName    = "org.freedesktop.Notifications.NotificationClosed"
	defaultClickAction = "default"
)

// DBusTransport talks to the org.freedesktop.Notifications service on the
// session bus.
type DBusTransport struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewDBusTransport connects to the session bus.
func NewDBusTransport() (*DBusTransport, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBusTransport{
		conn: conn,
		obj:  conn.Object(notificationsDest, notificationsPath),
	}, nil
}

// Close closes the session bus connection.
func (t *DBusTransport) Close() error {
	return t.conn.Close()
}

// Show sends a Notify call and returns the server-assigned notification ID.
func (t *DBusTransport) Show(req Request) (uint32, error) {
	hints := map[string]dbus.Variant{
		"urgency":   dbus.MakeVariant(byte(req.Urgency)),
		"transient": dbus.MakeVariant(req.Transient),
		"resident":  dbus.MakeVariant(req.Resident),
	}
	actions := []string{defaultClickAction, "Open"}

	// replaces_id 0 never replaces an existing notification.
	call := t.obj.Call(notifyMethod, 0,
		appName, uint32(0), req.IconPath, req.Summary, req.Body,
		actions, hints, int32(req.TimeoutMS))
	if call.Err != nil {
		return 0, fmt.Errorf("notify call: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("read notification id: %w", err)
	}
	return id, nil
}

// Signals subscribes to ActionInvoked and NotificationClosed and converts
// them into dispatcher signals until ctx is cancelled.
func (t *DBusTransport) Signals(ctx context.Context) (<-chan Signal, error) {
	if err := t.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(notificationsPath),
		dbus.WithMatchInterface(notificationsIface),
	); err != nil {
		return nil, fmt.Errorf("add signal match: %w", err)
	}

	raw := make(chan *dbus.Signal, 16)
	t.conn.Signal(raw)

	out := make(chan Signal, 16)
	go func() {
		defer close(out)
		defer t.conn.RemoveSignal(raw)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-raw:
				if !ok {
					return
				}
				converted, keep := convertSignal(sig)
				if !keep {
					continue
				}
				select {
				case out <- converted:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func convertSignal(sig *dbus.Signal) (Signal, bool) {
	switch sig.Name {
	case actionInvokedName:
		if len(sig.Body) < 2 {
			return Signal{}, false
		}
		id, okID := sig.Body[0].(uint32)
		action, okAction := sig.Body[1].(string)
		if !okID || !okAction || action != defaultClickAction {
			return Signal{}, false
		}
		return Signal{ID: id, Kind: SignalClicked}, true
	case notifClosedName:
		if len(sig.Body) < 1 {
			return Signal{}, false
		}
		id, ok := sig.Body[0].(uint32)
		if !ok {
			return Signal{}, false
		}
		return Signal{ID: id, Kind: SignalClosed}, true
	}
	return Signal{}, false
}
