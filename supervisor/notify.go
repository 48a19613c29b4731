package supervisor

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsService = "com.system76.NotificationsSocket"
	notificationsPath    = dbus.ObjectPath("/com/system76/NotificationsSocket")
	notificationsGetFd   = notificationsService + ".GetFd"
)

// NotificationsFD asks the notification daemon on the session bus for a
// connection an applet can show notifications through
func NotificationsFD() (*os.File, error) {
	bus, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("dbus session bus: %w", err)
	}
	defer bus.Close()

	var fd dbus.UnixFD
	obj := bus.Object(notificationsService, notificationsPath)
	if err := obj.Call(notificationsGetFd, 0).Store(&fd); err != nil {
		return nil, fmt.Errorf("%s: %w", notificationsGetFd, err)
	}
	return os.NewFile(uintptr(fd), "notifications"), nil
}
