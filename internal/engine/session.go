//go:build linux

package engine

import (
	"time"

	"github.com/go-gl/gl/v3.2-core/gl"
	"github.com/rs/zerolog/log"

	"github.com/tuxx/wayvid/internal/decoder"
	"github.com/tuxx/wayvid/internal/egl"
	"github.com/tuxx/wayvid/internal/layout"
	"github.com/tuxx/wayvid/internal/logging"
	"github.com/tuxx/wayvid/internal/mpv"
	"github.com/tuxx/wayvid/internal/timing"
	"github.com/tuxx/wayvid/internal/types"
	"github.com/tuxx/wayvid/internal/wayland"
)

// session is one running wallpaper on one output. All access happens on the
// engine thread.
type session struct {
	eng    *Engine
	output *wayland.Output

	source types.VideoSource
	params types.DecodeParams
	mode   types.LayoutMode
	volume float64
	rate   float64
	muted  bool
	paused bool

	surface *wayland.LayerSurface
	window  *egl.Window
	ref     *decoder.Ref
	cons    *decoder.Consumer

	timing   *timing.Tracker
	errLimit *logging.RateLimiter

	// Surface pixel size from the last acked configure, scaled
	width, height int32

	configured bool
	// A buffer must reach the compositor once before the surface maps
	mapped bool
	// Set while a hot swap waits for the new source's first frame
	swapPending bool
	// hwdec fell back to software after a decode error
	triedSoftware bool

	lastFrameAt    time.Time
	lastSkipLogged bool
}

// newSession starts the creation flow: layer surface now, EGL and decoder on
// the first configure.
func (e *Engine) newSession(output *wayland.Output, source types.VideoSource,
	params types.DecodeParams, mode types.LayoutMode) (*session, error) {

	s := &session{
		eng:      e,
		output:   output,
		source:   source,
		params:   params,
		mode:     mode,
		volume:   e.cfg.Playback.Volume,
		rate:     1.0,
		muted:    e.cfg.Playback.Mute,
		timing:   timing.NewTracker(e.cfg.Playback.FPSCap, output.RefreshmHz),
		errLimit: logging.NewRateLimiter(time.Minute),
	}

	surface, err := e.conn.CreateLayerSurface(output, "wayvid")
	if err != nil {
		return nil, engineErr(KindConfigureRace, "create layer surface", err)
	}
	s.surface = surface
	surface.OnConfigure = s.onConfigure
	surface.OnClosed = func() { e.destroySession(s, true) }
	return s, nil
}

// onConfigure runs on the compositor's configure event: first time it builds
// the EGL window and acquires the decoder, later times it resizes.
func (s *session) onConfigure(width, height int32) {
	if width == 0 || height == 0 {
		// Compositor proposed a zero size; fall back to the output mode and
		// treat it as transient.
		width = s.output.Width / s.output.Scale
		height = s.output.Height / s.output.Scale
		if width == 0 || height == 0 {
			s.fail(engineErr(KindConfigureRace, "zero-sized configure", nil))
			return
		}
	}

	scale := s.output.Scale
	if scale < 1 {
		scale = 1
	}
	pw, ph := width*scale, height*scale

	if s.window == nil {
		s.surface.SetBufferScale(scale)
		window, err := s.eng.eglDisplay.CreateWindow(s.surface.SurfacePtr(), pw, ph)
		if err != nil {
			s.fail(engineErr(KindEGL, "create egl window", err))
			return
		}
		s.window = window
		s.width, s.height = pw, ph

		if err := s.acquireDecoder(s.sourceKey()); err != nil {
			s.fail(err)
			return
		}
		s.configured = true
		// Render immediately: the surface needs a buffer before the
		// compositor maps it, and frame callbacks only flow once it is
		// mapped.
		s.onFrameCallback()
		return
	}

	if pw != s.width || ph != s.height {
		s.window.Resize(pw, ph)
		s.width, s.height = pw, ph
		s.timing = timing.NewTracker(s.eng.cfg.Playback.FPSCap, s.output.RefreshmHz)
	}
	s.requestFrame()
	s.surface.Commit()
}

func (s *session) sourceKey() types.SourceKey {
	return types.SourceKey{Source: s.source, Params: s.params}
}

// acquireDecoder joins or creates the shared pipeline for the current key and
// loads the source when the pipeline is new.
func (s *session) acquireDecoder(key types.SourceKey) error {
	ref, isNew, err := s.eng.registry.Acquire(key)
	if err != nil {
		return err
	}
	s.ref = ref
	s.cons = s.eng.registry.RegisterConsumer(s.output.Name, ref)

	p := s.pipeline()
	if isNew {
		if err := p.player.Load(key.Source); err != nil {
			s.releaseDecoder()
			return engineErr(KindDecode, "load source", err)
		}
		p.player.OnFileLoaded = func() { s.eng.onFileLoaded(p) }
	}

	player := p.player
	player.SetVolume(s.volume)
	player.SetMute(s.muted)
	if s.paused {
		player.Pause()
	}
	return nil
}

func (s *session) releaseDecoder() {
	if s.ref == nil {
		return
	}
	s.eng.registry.UnregisterConsumer(s.output.Name, s.ref)
	s.eng.registry.Release(s.ref)
	s.ref = nil
	s.cons = nil
}

func (s *session) pipeline() *pipeline {
	if s.ref == nil {
		return nil
	}
	return s.ref.Pipeline().(*pipeline)
}

func (s *session) requestFrame() {
	s.surface.RequestFrame(s.onFrameCallback)
}

// onFrameCallback is the steady-state render tick: poll the decoder's update
// flag, render and swap when a new frame exists, otherwise just re-arm.
func (s *session) onFrameCallback() {
	if !s.configured || s.window == nil {
		return
	}

	p := s.pipeline()
	if p == nil {
		return
	}

	if s.eng.registry.Failed(s.ref) {
		s.rebuildExclusive()
		return
	}

	start := time.Now()

	newFrame := p.newFrame || p.player.UpdateFlags()
	p.newFrame = false

	seq := s.eng.registry.CurrentSeq(s.ref)
	render := newFrame || s.cons.Behind(seq)

	// A hot swap holds presentation until the new source decodes.
	if s.swapPending {
		if newFrame {
			s.swapPending = false
		} else {
			render = false
		}
	}
	// An unmapped layer surface needs one buffer before the compositor shows
	// it at all; present a cleared frame if the decoder is still warming up.
	if !s.mapped {
		render = true
	}

	if render && !s.timing.ShouldRender() {
		render = false
	}

	if render {
		if err := s.renderFrame(p); err != nil {
			if s.errLimit.Allow(KindEGL) {
				log.Warn().Str("output", s.output.Name).Err(err).Msg("render failed")
			}
		} else {
			s.cons.LastSeq = seq
			s.mapped = true
		}
		s.timing.Record(time.Since(start))
		s.logSkipTransition()
	}

	s.requestFrame()
	s.surface.Commit()
}

// renderFrame binds the pipeline context against this session's window and
// draws the current frame.
func (s *session) renderFrame(p *pipeline) error {
	if err := p.glctx.MakeCurrent(s.window); err != nil {
		return err
	}
	defer p.glctx.MakeCurrentNone()

	s.eng.initGL()

	if !p.renderReady {
		if err := p.player.InitRender(); err != nil {
			return err
		}
		p.renderReady = true
		s.applyLayout(p)
		s.configureHDR(p.player)
	}

	gl.Viewport(0, 0, s.width, s.height)
	if !s.mapped || s.mode == types.LayoutCentre {
		gl.ClearColor(0, 0, 0, 1)
		gl.Clear(gl.COLOR_BUFFER_BIT)
	}

	if srcW, srcH, ok := p.player.VideoDimensions(); ok {
		w, h := s.width, s.height
		if s.mode == types.LayoutCentre {
			// The decoder presents 1:1; the viewport carries the centring and
			// the clamped crop.
			res := layout.Calculate(srcW, srcH, s.width, s.height, s.mode)
			gl.Viewport(res.Dst.X, s.height-res.Dst.Y-res.Dst.H, res.Dst.W, res.Dst.H)
			w, h = res.Dst.W, res.Dst.H
		}
		if err := p.player.Render(0, w, h); err != nil {
			return err
		}
	}

	if err := s.window.SwapBuffers(); err != nil {
		return err
	}
	p.player.ReportSwap()
	s.lastFrameAt = time.Now()
	return nil
}

// applyLayout programs the decoder-side half of the fit mode. Fill crops via
// panscan, contain letterboxes via keepaspect, stretch disables it, centre
// renders unscaled into a viewport computed by the layout calculator.
func (s *session) applyLayout(p *pipeline) {
	player := p.player
	switch s.mode {
	case types.LayoutStretch:
		player.SetPropertyString("keepaspect", "no")
		player.SetPropertyString("panscan", "0.0")
		player.SetPropertyString("video-unscaled", "no")
	case types.LayoutContain:
		player.SetPropertyString("keepaspect", "yes")
		player.SetPropertyString("panscan", "0.0")
		player.SetPropertyString("video-unscaled", "no")
	case types.LayoutCentre:
		player.SetPropertyString("keepaspect", "yes")
		player.SetPropertyString("panscan", "0.0")
		player.SetPropertyString("video-unscaled", "yes")
	default: // fill
		player.SetPropertyString("keepaspect", "yes")
		player.SetPropertyString("panscan", "1.0")
		player.SetPropertyString("video-unscaled", "no")
	}
}

// setMode switches the fit mode live.
func (s *session) setMode(mode types.LayoutMode) {
	s.mode = mode
	if p := s.pipeline(); p != nil && p.renderReady {
		s.applyLayout(p)
	}
}

// configureHDR inspects the loaded source and programs tone mapping or
// passthrough per the settings.
func (s *session) configureHDR(player *mpv.Player) {
	md, err := player.DetectHDRMetadata()
	if err != nil || !md.IsHDR() {
		return
	}
	tm := s.eng.cfg.ToneMapping()
	log.Info().Str("output", s.output.Name).
		Str("transfer", md.Transfer.String()).
		Float64("peak_nits", md.PeakNits).
		Msg("hdr source detected")
	if tm.Passthrough {
		if err := player.ConfigureHDRPassthrough(); err == nil {
			return
		}
		log.Warn().Str("output", s.output.Name).Msg("hdr passthrough unavailable, tone mapping")
	}
	if err := player.ConfigureToneMapping(tm); err != nil {
		log.Warn().Str("output", s.output.Name).Err(err).Msg("tone mapping setup failed")
	}
}

// hotSwap loads a new source on the running pipeline without a surface
// rebuild; the old frame stays on screen until the new source decodes.
func (s *session) hotSwap(source types.VideoSource) error {
	newKey := types.SourceKey{Source: source, Params: s.params}
	p := s.pipeline()

	if s.eng.registry.Rekey(s.ref, newKey) {
		if err := p.player.LoadNew(source); err != nil {
			return engineErr(KindDecode, "load new source", err)
		}
		s.source = source
		s.swapPending = true
		return nil
	}

	// The pipeline is shared with other outputs; they keep it. This session
	// moves to the new key's pipeline, presenting only once it has a frame.
	oldRef := s.ref
	s.eng.registry.UnregisterConsumer(s.output.Name, oldRef)
	s.ref = nil
	s.cons = nil
	if err := s.acquireDecoder(newKey); err != nil {
		s.eng.registry.Release(oldRef)
		return err
	}
	s.eng.registry.Release(oldRef)
	s.source = source
	s.swapPending = true
	return nil
}

// rebuildExclusive abandons a failed shared pipeline for a private one.
func (s *session) rebuildExclusive() {
	params := s.params
	if params.Hwdec == types.HwdecAuto && !s.triedSoftware {
		// One software retry before giving up on the source.
		params.Hwdec = types.HwdecOff
		s.triedSoftware = true
	}
	s.releaseDecoder()
	s.params = params
	if err := s.acquireDecoder(s.sourceKey()); err != nil {
		s.fail(err)
		return
	}
	s.requestFrame()
	s.surface.Commit()
}

func (s *session) logSkipTransition() {
	skipping := s.timing.Skipping()
	if skipping != s.lastSkipLogged {
		s.lastSkipLogged = skipping
		log.Info().Str("output", s.output.Name).
			Bool("skipping", skipping).
			Float64("load", s.timing.Load()).
			Msg("frame skip transition")
	}
}

func (s *session) pause() {
	if p := s.pipeline(); p != nil {
		p.player.Pause()
	}
	s.paused = true
}

func (s *session) resume() {
	if p := s.pipeline(); p != nil {
		p.player.Resume()
	}
	s.paused = false
}

func (s *session) fail(err error) {
	kind := KindInternal
	if e, ok := err.(*Error); ok {
		kind = e.Kind
	}
	if s.errLimit.Allow(kind) {
		log.Error().Str("output", s.output.Name).Err(err).Msg("session failed")
	}
	s.eng.emitError(kind, err.Error())
	s.eng.destroySession(s, true)
}

// destroy tears the session down in the mandated order: pause, unbind GL,
// drop the EGL window, drop the surfaces, deregister from the shared decoder,
// release the pipeline reference last.
func (s *session) destroy() {
	if p := s.pipeline(); p != nil {
		// Pausing a decoder other outputs still consume would freeze them.
		if s.eng.registry.Refs(s.ref.Key()) == 1 {
			p.player.Pause()
		}
		p.glctx.MakeCurrentNone()
	}
	if s.window != nil {
		s.window.Destroy()
		s.window = nil
	}
	if s.surface != nil {
		s.surface.Destroy()
		s.surface = nil
	}
	s.releaseDecoder()
	s.configured = false
	s.mapped = false
}

// status renders the session into a status reply row.
func (s *session) status() types.OutputStatus {
	st := types.OutputStatus{
		Name:   s.output.Name,
		Paused: s.paused,
		Volume: s.volume,
		Layout: s.mode.String(),
		Width:  s.width,
		Height: s.height,
	}
	st.Wallpaper = s.source.Display()
	return st
}
