package systemd

import (
	"fmt"
	"net"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Listener names, matched against FileDescriptorName= in studytrack.socket.
const (
	APIListenerName     = "api"
	MetricsListenerName = "metrics"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	API       net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors.
// Returns nil listeners if not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false) // false = don't unset env vars
	if len(fds) == 0 {
		return listeners, nil
	}

	listeners.Activated = true

	// Requires systemd 227+ for named descriptors
	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := named[APIListenerName]; ok && len(lns) > 0 {
		listeners.API = lns[0]
	}
	if lns, ok := named[MetricsListenerName]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 notification to systemd.
// Outside systemd this is a no-op.
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// Watchdog pings the systemd watchdog at half its configured timeout until
// stop is closed. It returns immediately when no watchdog is configured.
func Watchdog(stop <-chan struct{}) error {
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("failed to read watchdog settings: %w", err)
	}
	if timeout == 0 {
		return nil
	}

	go func() {
		ticker := time.NewTicker(timeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			case <-stop:
				return
			}
		}
	}()

	return nil
}
