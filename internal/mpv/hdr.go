//go:build linux

package mpv

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tuxx/wayvid/internal/types"
)

// DetectHDRMetadata queries the decoder for the current source's transfer
// function, primaries and signalled peak. Valid only once a file is loaded.
func (p *Player) DetectHDRMetadata() (types.HDRMetadata, error) {
	gamma, err := p.GetPropertyString("video-params/gamma")
	if err != nil {
		return types.HDRMetadata{}, err
	}

	md := types.HDRMetadata{Transfer: types.TransferSDR}
	switch strings.ToLower(gamma) {
	case "pq", "st2084":
		md.Transfer = types.TransferPQ
	case "hlg", "std-b67":
		md.Transfer = types.TransferHLG
	}

	if primaries, err := p.GetPropertyString("video-params/primaries"); err == nil {
		md.Primaries = primaries
	}
	if peak, err := p.getDouble("video-params/sig-peak"); err == nil && peak > 0 {
		// sig-peak is in multiples of SDR reference white (203 nits).
		md.PeakNits = peak * 203
	}
	return md, nil
}

// ConfigureToneMapping programs the HDR-to-SDR pipeline. The per-algorithm
// parameter is clamped to its documented range with a warning.
func (p *Player) ConfigureToneMapping(tm types.ToneMapping) error {
	param := tm.Param
	if r := tm.Algo.ParamRange(); r.Max > r.Min {
		if param < r.Min || param > r.Max {
			log.Warn().
				Str("algorithm", tm.Algo.String()).
				Float64("param", param).
				Float64("min", r.Min).Float64("max", r.Max).
				Msg("tone-mapping parameter outside range, clamping")
			if param < r.Min {
				param = r.Min
			} else {
				param = r.Max
			}
		}
	} else {
		param = 0
	}

	if err := p.SetPropertyString("tone-mapping", tm.Algo.String()); err != nil {
		return err
	}
	if param != 0 {
		if err := p.SetPropertyString("tone-mapping-param",
			strconv.FormatFloat(param, 'f', 3, 64)); err != nil {
			return err
		}
	}
	if err := p.SetPropertyString("tone-mapping-mode", tm.Mode.String()); err != nil {
		return err
	}
	return p.SetPropertyString("hdr-compute-peak", boolOption(tm.ComputePeak))
}

// ConfigureHDRPassthrough hands the HDR signal through untouched, for
// compositors and outputs that take PQ/HLG directly.
func (p *Player) ConfigureHDRPassthrough() error {
	if err := p.SetPropertyString("target-colorspace-hint", "yes"); err != nil {
		return err
	}
	return p.SetPropertyString("tone-mapping", "clip")
}
