//go:build linux

// Package engine runs the playback core: a dedicated thread owning the
// Wayland connection, every EGL context, every decoder, and the session map.
// Everything else talks to it through the control channels.
package engine

import (
	"runtime"
	"sync"
	"time"

	"github.com/go-gl/gl/v3.2-core/gl"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/tuxx/wayvid/internal/config"
	"github.com/tuxx/wayvid/internal/control"
	"github.com/tuxx/wayvid/internal/decoder"
	"github.com/tuxx/wayvid/internal/egl"
	"github.com/tuxx/wayvid/internal/types"
	"github.com/tuxx/wayvid/internal/wayland"
)

// pressureInterval is how often the engine samples its RSS.
const pressureInterval = 5 * time.Second

// Engine is the singleton playback state. All fields are owned by the thread
// running Run; only the control handle crosses threads.
type Engine struct {
	cfg     config.Config
	cfgPath string
	version string
	handle  *control.Handle

	conn       *wayland.Conn
	eglDisplay *egl.Display
	registry   *decoder.Registry

	// Sessions keyed by output connector name; order preserves insertion for
	// reverse teardown.
	sessions map[string]*session
	order    []string

	pipelines map[*pipeline]struct{}

	announced map[string]bool

	cmdMu    sync.Mutex
	cmdQueue []control.Command
	cmdFd    int
	timerFd  int

	glReady  bool
	quitting bool

	pressure pressureState

	// OnPressure lets the daemon throttle the thumbnail workers.
	OnPressure func(level PressureLevel)
}

// New creates an engine bound to its control handle. Nothing talks to the
// compositor until Run.
func New(cfg config.Config, cfgPath, version string, handle *control.Handle) *Engine {
	return &Engine{
		cfg:       cfg,
		cfgPath:   cfgPath,
		version:   version,
		handle:    handle,
		sessions:  make(map[string]*session),
		pipelines: make(map[*pipeline]struct{}),
		announced: make(map[string]bool),
	}
}

// Run connects to the compositor and services commands until Quit. It locks
// its goroutine to an OS thread: libwayland, EGL and libmpv all assume the
// dispatching thread stays put.
func (e *Engine) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	warnConflictingClients()

	conn, err := wayland.Connect()
	if err != nil {
		kind := KindInternal
		if err == wayland.ErrNoLayerShell {
			kind = KindProtocolMissing
		}
		e.handle.Emit(control.EngineError{Kind: kind, Message: err.Error()})
		return err
	}
	e.conn = conn
	defer e.shutdown()

	conn.OnOutputConfigured = e.onOutputConfigured
	conn.OnOutputRemoved = e.onOutputRemoved

	e.registry = decoder.NewRegistry(e.newPipelineFactory())

	cmdFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return err
	}
	e.cmdFd = cmdFd
	go e.forwardCommands()

	timerFd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return err
	}
	e.timerFd = timerFd
	interval := unix.NsecToTimespec(pressureInterval.Nanoseconds())
	unix.TimerfdSettime(timerFd, 0, &unix.ItimerSpec{Interval: interval, Value: interval}, nil)

	// Announce outputs the registry delivered during Connect.
	for _, out := range conn.Outputs() {
		e.onOutputConfigured(out)
	}

	e.handle.Emit(control.Started{})
	log.Info().Int("outputs", len(conn.Outputs())).Msg("engine started")

	for !e.quitting {
		if err := conn.DispatchPending(); err != nil {
			return err
		}
		conn.Flush()

		pfds, pipes := e.pollSet()
		n, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		e.handleReady(pfds, pipes)
	}
	return nil
}

// pollSet builds this iteration's fd set: the Wayland connection, the command
// eventfd, the pressure timer and every live decoder's wakeup fds. The
// pipeline slice pins the fd-to-pipeline correspondence for handleReady.
func (e *Engine) pollSet() ([]unix.PollFd, []*pipeline) {
	pfds := []unix.PollFd{
		{Fd: int32(e.conn.Fd()), Events: unix.POLLIN},
		{Fd: int32(e.cmdFd), Events: unix.POLLIN},
		{Fd: int32(e.timerFd), Events: unix.POLLIN},
	}
	pipes := make([]*pipeline, 0, len(e.pipelines))
	for p := range e.pipelines {
		pipes = append(pipes, p)
		pfds = append(pfds,
			unix.PollFd{Fd: int32(p.player.EventFd()), Events: unix.POLLIN},
			unix.PollFd{Fd: int32(p.player.RenderFd()), Events: unix.POLLIN},
		)
	}
	return pfds, pipes
}

func (e *Engine) handleReady(pfds []unix.PollFd, pipes []*pipeline) {
	if pfds[0].Revents&unix.POLLIN != 0 {
		if err := e.conn.Dispatch(); err != nil {
			log.Error().Err(err).Msg("wayland dispatch failed")
			e.quitting = true
			return
		}
	}
	if pfds[1].Revents&unix.POLLIN != 0 {
		e.drainCommands()
	}
	if pfds[2].Revents&unix.POLLIN != 0 {
		var buf [8]byte
		unix.Read(e.timerFd, buf[:])
		e.checkPressure()
	}

	// Map decoder fds back to pipelines by position. Dispatch or a command
	// above may have torn a pipeline down; skip anything no longer live.
	for idx, p := range pipes {
		if _, ok := e.pipelines[p]; !ok {
			continue
		}
		i := 3 + idx*2
		if i+1 >= len(pfds) {
			break
		}
		if pfds[i].Revents&unix.POLLIN != 0 {
			p.player.ProcessEvents()
		}
		if _, ok := e.pipelines[p]; !ok {
			continue
		}
		if pfds[i+1].Revents&unix.POLLIN != 0 {
			if p.player.UpdateFlags() {
				p.newFrame = true
				e.bumpFrameSeq(p)
			}
		}
	}
}

// bumpFrameSeq advances the shared-frame sequence for whichever entry owns p.
func (e *Engine) bumpFrameSeq(p *pipeline) {
	for _, s := range e.sessions {
		if s.pipeline() == p && s.ref != nil {
			e.registry.FrameArrived(s.ref)
			return
		}
	}
}

// forwardCommands bridges the Go command channel onto the poll loop's
// eventfd. Runs on its own goroutine; the queue is the only shared state.
func (e *Engine) forwardCommands() {
	var one = [8]byte{1}
	for cmd := range e.handle.Commands() {
		e.cmdMu.Lock()
		e.cmdQueue = append(e.cmdQueue, cmd)
		e.cmdMu.Unlock()
		unix.Write(e.cmdFd, one[:])
		if _, isQuit := cmd.(control.Quit); isQuit {
			return
		}
	}
}

func (e *Engine) drainCommands() {
	var buf [8]byte
	unix.Read(e.cmdFd, buf[:])

	e.cmdMu.Lock()
	queue := e.cmdQueue
	e.cmdQueue = nil
	e.cmdMu.Unlock()

	for _, cmd := range queue {
		e.execute(cmd)
		if e.quitting {
			// Commands queued after Quit are dropped.
			return
		}
	}
}

func (e *Engine) execute(cmd control.Command) {
	switch c := cmd.(type) {
	case control.ApplyWallpaper:
		e.applyWallpaper(c)

	case control.ClearWallpaper:
		for _, s := range e.targetSessions(c.Output) {
			name := s.output.Name
			e.destroySession(s, false)
			e.handle.Emit(control.WallpaperCleared{Output: name})
			e.forgetAssignment(name)
		}

	case control.Pause:
		for _, s := range e.targetSessions(c.Output) {
			s.pause()
		}

	case control.Resume:
		for _, s := range e.targetSessions(c.Output) {
			s.resume()
		}

	case control.Seek:
		if s := e.sessions[c.Output]; s != nil {
			if p := s.pipeline(); p != nil {
				p.player.Seek(c.TimeSeconds)
			}
		}

	case control.SetVolume:
		if s := e.sessions[c.Output]; s != nil {
			s.volume = c.Volume
			if p := s.pipeline(); p != nil {
				p.player.SetVolume(c.Volume)
			}
		}

	case control.SetPlaybackRate:
		if s := e.sessions[c.Output]; s != nil {
			s.rate = c.Rate
			if p := s.pipeline(); p != nil {
				p.player.SetRate(c.Rate)
			}
		}

	case control.ToggleMute:
		if s := e.sessions[c.Output]; s != nil {
			if p := s.pipeline(); p != nil {
				if muted, err := p.player.ToggleMute(); err == nil {
					s.muted = muted
				}
			}
		}

	case control.SetLayout:
		if s := e.sessions[c.Output]; s != nil {
			s.setMode(c.Mode)
		}

	case control.GetStatus:
		status := types.Status{Running: true, Version: e.version}
		for _, name := range e.order {
			if s := e.sessions[name]; s != nil {
				status.Outputs = append(status.Outputs, s.status())
			}
		}
		select {
		case c.Reply <- status:
		default:
		}

	case control.GetOutputs:
		var infos []types.OutputInfo
		for _, out := range e.conn.Outputs() {
			infos = append(infos, out.Info())
		}
		select {
		case c.Reply <- infos:
		default:
		}

	case control.Quit:
		e.quitting = true
	}
}

// applyWallpaper creates or hot-swaps sessions on the targeted outputs.
func (e *Engine) applyWallpaper(c control.ApplyWallpaper) {
	if err := e.ensureEGL(); err != nil {
		e.emitError(KindEGL, err.Error())
		return
	}

	mode := e.cfg.LayoutMode()
	if c.Layout != nil {
		mode = *c.Layout
	}
	params := c.Params
	if params == (types.DecodeParams{}) {
		params = e.cfg.DecodeParams()
	}

	var outputs []*wayland.Output
	if c.Output != "" {
		out := e.conn.OutputByName(c.Output)
		if out == nil {
			e.emitError(KindInternal, "unknown output "+c.Output)
			return
		}
		outputs = []*wayland.Output{out}
	} else {
		outputs = e.conn.Outputs()
	}

	for _, out := range outputs {
		if s := e.sessions[out.Name]; s != nil {
			if s.source == c.Source && s.params == params {
				if c.Layout != nil {
					s.setMode(*c.Layout)
				}
				continue
			}
			if s.params == params && s.configured {
				if err := s.hotSwap(c.Source); err != nil {
					e.emitError(KindDecode, err.Error())
					continue
				}
				s.setMode(mode)
				e.handle.Emit(control.WallpaperApplied{Output: out.Name, Source: c.Source})
				e.recordAssignment(out.Name, c.Source, mode)
				continue
			}
			// Different decode parameters force a full rebuild.
			e.destroySession(s, false)
		}

		s, err := e.newSession(out, c.Source, params, mode)
		if err != nil {
			e.emitError(KindInternal, err.Error())
			continue
		}
		e.sessions[out.Name] = s
		e.order = append(e.order, out.Name)
		e.handle.Emit(control.WallpaperApplied{Output: out.Name, Source: c.Source})
		e.recordAssignment(out.Name, c.Source, mode)
		log.Info().Str("output", out.Name).Str("source", c.Source.Display()).Msg("wallpaper applied")
	}
}

// targetSessions resolves an optional output name to sessions, in insertion
// order.
func (e *Engine) targetSessions(output string) []*session {
	if output != "" {
		if s := e.sessions[output]; s != nil {
			return []*session{s}
		}
		return nil
	}
	out := make([]*session, 0, len(e.sessions))
	for _, name := range e.order {
		if s := e.sessions[name]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// destroySession removes a session from the map and tears it down. emitClear
// additionally publishes WallpaperCleared.
func (e *Engine) destroySession(s *session, emitClear bool) {
	name := s.output.Name
	if e.sessions[name] != s {
		return
	}
	delete(e.sessions, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	s.destroy()
	if emitClear {
		e.handle.Emit(control.WallpaperCleared{Output: name})
	}
}

// ensureEGL lazily initialises EGL on first use: sessions, contexts and
// decoders all wait for the first apply.
func (e *Engine) ensureEGL() error {
	if e.eglDisplay != nil {
		return nil
	}
	dpy, err := egl.NewDisplay(e.conn.DisplayPtr())
	if err != nil {
		return err
	}
	e.eglDisplay = dpy
	return nil
}

// initGL loads GL symbols once a context is current for the first time.
func (e *Engine) initGL() {
	if e.glReady {
		return
	}
	if err := gl.InitWithProcAddrFunc(egl.GetProcAddress); err != nil {
		log.Warn().Err(err).Msg("gl init failed")
		return
	}
	e.glReady = true
}

func (e *Engine) onOutputConfigured(out *wayland.Output) {
	if !e.announced[out.Name] {
		e.announced[out.Name] = true
		e.handle.Emit(control.OutputAdded{Info: out.Info()})
		log.Info().Str("output", out.Name).
			Int32("width", out.Width).Int32("height", out.Height).
			Msg("output added")
		e.maybeRestore(out)
	}
}

func (e *Engine) onOutputRemoved(out *wayland.Output) {
	s := e.sessions[out.Name]
	if s != nil {
		// Tear down silently; clients hear OutputRemoved first, then
		// WallpaperCleared.
		e.destroySession(s, false)
	}
	delete(e.announced, out.Name)
	e.handle.Emit(control.OutputRemoved{Name: out.Name})
	if s != nil {
		e.handle.Emit(control.WallpaperCleared{Output: out.Name})
	}
}

// maybeRestore replays a recorded assignment when restore-on-startup is on.
func (e *Engine) maybeRestore(out *wayland.Output) {
	if !e.cfg.RestoreOnStartup {
		return
	}
	a, ok := e.cfg.Assignments[out.Name]
	if !ok || e.sessions[out.Name] != nil {
		return
	}
	cmd := control.ApplyWallpaper{Output: out.Name}
	cmd.Source = types.SourceFromPath(a.Path, false)
	if a.Layout != "" {
		if mode, err := types.ParseLayoutMode(a.Layout); err == nil {
			cmd.Layout = &mode
		}
	}
	log.Info().Str("output", out.Name).Str("source", a.Path).Msg("restoring wallpaper")
	e.applyWallpaper(cmd)
}

// recordAssignment persists the applied wallpaper for restore-on-startup.
func (e *Engine) recordAssignment(output string, source types.VideoSource, mode types.LayoutMode) {
	if !e.cfg.RestoreOnStartup || e.cfgPath == "" {
		return
	}
	if e.cfg.Assignments == nil {
		e.cfg.Assignments = make(map[string]config.Assignment)
	}
	e.cfg.Assignments[output] = config.Assignment{Path: source.Display(), Layout: mode.String()}
	if err := e.cfg.Save(e.cfgPath); err != nil {
		log.Warn().Err(err).Msg("saving assignment failed")
	}
}

func (e *Engine) forgetAssignment(output string) {
	if !e.cfg.RestoreOnStartup || e.cfgPath == "" || e.cfg.Assignments == nil {
		return
	}
	if _, ok := e.cfg.Assignments[output]; !ok {
		return
	}
	delete(e.cfg.Assignments, output)
	if err := e.cfg.Save(e.cfgPath); err != nil {
		log.Warn().Err(err).Msg("saving assignment failed")
	}
}

// onFileLoaded fires from a decoder once a (re)loaded source is ready.
func (e *Engine) onFileLoaded(p *pipeline) {
	if w, h, ok := p.player.VideoDimensions(); ok {
		log.Debug().Int32("width", w).Int32("height", h).Msg("source loaded")
	}
}

// onDecodeError marks the pipeline's registry entry failed; its consumers
// fall back to exclusive decoders on their next callback.
func (e *Engine) onDecodeError(p *pipeline, code int) {
	for _, s := range e.sessions {
		if s.pipeline() == p && s.ref != nil {
			if e.registry.MarkFailed(s.ref, engineErr(KindDecode, "decoder reported failure", nil)) {
				e.emitError(KindDecode, "decoder failed, retrying")
			}
			return
		}
	}
}

func (e *Engine) emitError(kind, message string) {
	e.handle.Emit(control.EngineError{Kind: kind, Message: message})
}

// shutdown drains everything in reverse insertion order, then drops the
// Wayland connection.
func (e *Engine) shutdown() {
	for i := len(e.order) - 1; i >= 0; i-- {
		if s := e.sessions[e.order[i]]; s != nil {
			delete(e.sessions, e.order[i])
			s.destroy()
		}
	}
	e.order = nil

	if e.eglDisplay != nil {
		e.eglDisplay.Terminate()
		e.eglDisplay = nil
	}
	if e.timerFd > 0 {
		unix.Close(e.timerFd)
	}
	if e.cmdFd > 0 {
		unix.Close(e.cmdFd)
	}
	e.conn.Close()
	e.handle.Emit(control.Stopped{})
	e.handle.Close()
	log.Info().Msg("engine stopped")
}
