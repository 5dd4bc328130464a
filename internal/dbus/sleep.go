package dbus

import (
	"context"
	"log/slog"

	godbus "github.com/godbus/dbus/v5"
)

const (
	logindManager      = "org.freedesktop.login1.Manager"
	prepareForSleep    = logindManager + ".PrepareForSleep"
	prepareForShutdown = logindManager + ".PrepareForShutdown"
)

// SleepMonitor watches systemd-logind for suspend and resume so sensor
// sources can be re-resolved after a wake.
type SleepMonitor struct {
	conn *godbus.Conn
	wake chan struct{}
	log  *slog.Logger
}

// NewSleepMonitor subscribes to logind signals on the system bus.
func NewSleepMonitor(logger *slog.Logger) (*SleepMonitor, error) {
	conn, err := godbus.SystemBus()
	if err != nil {
		return nil, err
	}

	for _, member := range []string{"PrepareForSleep", "PrepareForShutdown"} {
		err = conn.AddMatchSignal(
			godbus.WithMatchInterface(logindManager),
			godbus.WithMatchMember(member),
		)
		if err != nil {
			return nil, err
		}
	}

	return &SleepMonitor{
		conn: conn,
		wake: make(chan struct{}, 1),
		log:  logger,
	}, nil
}

// Wake receives a value each time the system resumes. Wakes that arrive
// while one is pending are merged.
func (m *SleepMonitor) Wake() <-chan struct{} {
	return m.wake
}

// Run dispatches logind signals until ctx is done.
func (m *SleepMonitor) Run(ctx context.Context) {
	ch := make(chan *godbus.Signal, 16)
	m.conn.Signal(ch)
	defer m.conn.RemoveSignal(ch)

	for {
		select {
		case sig := <-ch:
			m.handle(sig)
		case <-ctx.Done():
			return
		}
	}
}

func (m *SleepMonitor) handle(sig *godbus.Signal) {
	if sig == nil || len(sig.Body) < 1 {
		return
	}
	active, ok := sig.Body[0].(bool)
	if !ok {
		return
	}

	switch sig.Name {
	case prepareForShutdown:
		if active {
			m.log.Info("system preparing for shutdown")
		}
	case prepareForSleep:
		if active {
			m.log.Info("system going to sleep")
			return
		}
		m.log.Info("system woke up")
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}
