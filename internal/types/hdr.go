package types

import (
	"fmt"
	"strings"
)

// TransferFunction is the signal-to-light mapping reported by the decoder.
type TransferFunction int

const (
	TransferSDR TransferFunction = iota
	TransferPQ
	TransferHLG
)

func (t TransferFunction) String() string {
	switch t {
	case TransferPQ:
		return "pq"
	case TransferHLG:
		return "hlg"
	default:
		return "sdr"
	}
}

// HDRMetadata is what the decoder learned about the current source.
type HDRMetadata struct {
	Transfer  TransferFunction
	Primaries string
	PeakNits  float64
}

// IsHDR reports whether the source needs tone mapping or passthrough.
func (m HDRMetadata) IsHDR() bool {
	return m.Transfer == TransferPQ || m.Transfer == TransferHLG
}

// ToneMapAlgo is the tone-mapping curve applied when reducing HDR to the
// display's capabilities.
type ToneMapAlgo int

const (
	ToneMapBT2390 ToneMapAlgo = iota
	ToneMapHable
	ToneMapMobius
	ToneMapReinhard
)

func (a ToneMapAlgo) String() string {
	switch a {
	case ToneMapHable:
		return "hable"
	case ToneMapMobius:
		return "mobius"
	case ToneMapReinhard:
		return "reinhard"
	default:
		return "bt.2390"
	}
}

// ParseToneMapAlgo parses the config spelling of a tone-mapping algorithm.
func ParseToneMapAlgo(s string) (ToneMapAlgo, error) {
	switch strings.ToLower(s) {
	case "", "bt.2390", "bt2390":
		return ToneMapBT2390, nil
	case "hable":
		return ToneMapHable, nil
	case "mobius":
		return ToneMapMobius, nil
	case "reinhard":
		return ToneMapReinhard, nil
	}
	return ToneMapBT2390, fmt.Errorf("unknown tone-mapping algorithm %q", s)
}

// ToneMapMode selects which representation the curve operates on.
type ToneMapMode int

const (
	ToneMapModeAuto ToneMapMode = iota
	ToneMapModeHybrid
	ToneMapModeRGB
	ToneMapModeLuma
)

func (m ToneMapMode) String() string {
	switch m {
	case ToneMapModeHybrid:
		return "hybrid"
	case ToneMapModeRGB:
		return "rgb"
	case ToneMapModeLuma:
		return "luma"
	default:
		return "auto"
	}
}

// ParseToneMapMode parses the config spelling of a tone-mapping mode.
func ParseToneMapMode(s string) (ToneMapMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ToneMapModeAuto, nil
	case "hybrid":
		return ToneMapModeHybrid, nil
	case "rgb":
		return ToneMapModeRGB, nil
	case "luma":
		return ToneMapModeLuma, nil
	}
	return ToneMapModeAuto, fmt.Errorf("unknown tone-mapping mode %q", s)
}

// ToneMapParamRange is the accepted range for the per-algorithm parameter.
// Values outside are clamped with a warning.
type ToneMapParamRange struct {
	Min, Max, Default float64
}

// ParamRange returns the documented parameter range for the algorithm.
func (a ToneMapAlgo) ParamRange() ToneMapParamRange {
	switch a {
	case ToneMapMobius:
		return ToneMapParamRange{Min: 0.01, Max: 1.0, Default: 0.3}
	case ToneMapReinhard:
		return ToneMapParamRange{Min: 0.01, Max: 1.0, Default: 0.5}
	case ToneMapHable:
		// hable takes no parameter; range is degenerate
		return ToneMapParamRange{Min: 0, Max: 0, Default: 0}
	default:
		return ToneMapParamRange{Min: 0.5, Max: 1.5, Default: 1.0}
	}
}

// ToneMapping is the resolved tone-mapping configuration for a decoder.
type ToneMapping struct {
	Algo        ToneMapAlgo
	Param       float64
	Mode        ToneMapMode
	ComputePeak bool
	Passthrough bool
}
