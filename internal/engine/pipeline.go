//go:build linux

package engine

import (
	"github.com/tuxx/wayvid/internal/decoder"
	"github.com/tuxx/wayvid/internal/egl"
	"github.com/tuxx/wayvid/internal/mpv"
	"github.com/tuxx/wayvid/internal/types"
)

// pipeline is one decode unit: a libmpv player plus the GL context its render
// context lives in. Sessions sharing the pipeline bind this context against
// their own EGL windows.
type pipeline struct {
	eng    *Engine
	player *mpv.Player
	glctx  *egl.Context

	// render context built on first render, once a session window exists
	renderReady bool
	// latched when the render fd fires; cleared as sessions consume it
	newFrame bool
}

// Destroy tears down in the order mpv requires: the render context is freed
// with its GL context current (surfaceless, the windows are long gone).
func (p *pipeline) Destroy() {
	if p.eng != nil {
		delete(p.eng.pipelines, p)
	}
	if p.glctx != nil {
		if err := p.glctx.MakeCurrentSurfaceless(); err == nil {
			p.player.Destroy()
			p.glctx.MakeCurrentNone()
		} else {
			p.player.Destroy()
		}
		p.glctx.Destroy()
		return
	}
	p.player.Destroy()
}

// newPipelineFactory binds the engine's EGL display and playback defaults
// into a registry factory.
func (e *Engine) newPipelineFactory() decoder.Factory {
	return func(key types.SourceKey) (decoder.Pipeline, error) {
		glctx, err := e.eglDisplay.CreateContext()
		if err != nil {
			return nil, engineErr(KindEGL, "create pipeline context", err)
		}
		player, err := mpv.New(mpv.Options{
			Loop:        e.cfg.Playback.Loop,
			Hwdec:       key.Params.Hwdec,
			StartTime:   key.Params.StartTime,
			Mute:        e.cfg.Playback.Mute,
			Volume:      e.cfg.Playback.Volume,
			Rate:        1.0,
			PanscanFill: false,
			VideoID:     key.Params.VideoID,
		})
		if err != nil {
			glctx.Destroy()
			return nil, engineErr(KindDecode, "create decoder", err)
		}
		p := &pipeline{eng: e, player: player, glctx: glctx}
		e.pipelines[p] = struct{}{}
		player.OnEndFile = func(code int) {
			e.onDecodeError(p, code)
		}
		return p, nil
	}
}
