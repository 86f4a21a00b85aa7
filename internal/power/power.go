// Package power pauses playback while the session is locked or the machine
// sleeps, via logind's D-Bus signals.
package power

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"github.com/tuxx/wayvid/internal/control"
)

const (
	login1Bus    = "org.freedesktop.login1"
	login1Path   = "/org/freedesktop/login1"
	managerIface = "org.freedesktop.login1.Manager"
	sessionIface = "org.freedesktop.login1.Session"
)

// Monitor listens for lock/unlock and sleep/wake and drives pause commands.
type Monitor struct {
	conn   *dbus.Conn
	handle *control.Handle

	pauseOnLock bool
	// sessions we paused, so an unrelated resume does not unpause the user's
	// own pause
	pausedByUs bool
}

// NewMonitor connects to the system bus and subscribes to the signals the
// configuration asks for.
func NewMonitor(handle *control.Handle, pauseOnLock bool) (*Monitor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	m := &Monitor{conn: conn, handle: handle, pauseOnLock: pauseOnLock}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(managerIface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		conn.Close()
		return nil, err
	}

	if pauseOnLock {
		if sessionPath, err := m.currentSessionPath(); err == nil {
			if err := conn.AddMatchSignal(
				dbus.WithMatchInterface(sessionIface),
				dbus.WithMatchObjectPath(sessionPath),
			); err != nil {
				log.Debug().Err(err).Msg("session lock signals unavailable")
			}
		} else {
			log.Debug().Err(err).Msg("logind session not found")
		}
	}

	return m, nil
}

// currentSessionPath resolves this process's logind session object.
func (m *Monitor) currentSessionPath() (dbus.ObjectPath, error) {
	obj := m.conn.Object(login1Bus, login1Path)
	var path dbus.ObjectPath
	err := obj.Call(managerIface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	return path, err
}

// Run pumps signals until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	defer m.conn.Close()

	signals := make(chan *dbus.Signal, 16)
	m.conn.Signal(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			m.dispatch(sig)
		}
	}
}

func (m *Monitor) dispatch(sig *dbus.Signal) {
	switch sig.Name {
	case managerIface + ".PrepareForSleep":
		if len(sig.Body) != 1 {
			return
		}
		sleeping, _ := sig.Body[0].(bool)
		if sleeping {
			m.pauseAll("suspend")
		} else {
			m.resumeAll("wake")
		}

	case sessionIface + ".Lock":
		if m.pauseOnLock {
			m.pauseAll("session lock")
		}

	case sessionIface + ".Unlock":
		if m.pauseOnLock {
			m.resumeAll("session unlock")
		}
	}
}

func (m *Monitor) pauseAll(reason string) {
	if m.pausedByUs {
		return
	}
	if err := m.handle.Send(control.Pause{}); err != nil {
		log.Warn().Err(err).Msg("pause on " + reason + " failed")
		return
	}
	m.pausedByUs = true
	log.Info().Str("reason", reason).Msg("playback paused")
}

func (m *Monitor) resumeAll(reason string) {
	if !m.pausedByUs {
		return
	}
	if err := m.handle.Send(control.Resume{}); err != nil {
		log.Warn().Err(err).Msg("resume on " + reason + " failed")
		return
	}
	m.pausedByUs = false
	log.Info().Str("reason", reason).Msg("playback resumed")
}
