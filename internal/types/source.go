package types

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SourceKind discriminates the variants of VideoSource.
type SourceKind int

const (
	// SourceFile is a single local media file
	SourceFile SourceKind = iota

	// SourceDirectory is a local directory played as a playlist
	SourceDirectory

	// SourceURL is a network stream
	SourceURL

	// SourcePipe is a named pipe producing raw media
	SourcePipe

	// SourceImageSequence is a directory of numbered frames played at a fixed rate
	SourceImageSequence

	// SourceProjectBundle is an imported wallpaper project directory
	SourceProjectBundle
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceDirectory:
		return "directory"
	case SourceURL:
		return "url"
	case SourcePipe:
		return "pipe"
	case SourceImageSequence:
		return "image-sequence"
	case SourceProjectBundle:
		return "project"
	default:
		return "unknown"
	}
}

// DirectoryOptions controls playlist behaviour for directory sources.
type DirectoryOptions struct {
	Shuffle bool `json:"shuffle" yaml:"shuffle"`
	Loop    bool `json:"loop" yaml:"loop"`
}

// VideoSource identifies a piece of playable content. Equality is structural:
// two sources with the same kind and fields decode the same byte stream and are
// interchangeable for decoder sharing.
type VideoSource struct {
	Kind    SourceKind       `json:"kind"`
	Path    string           `json:"path,omitempty"`
	URL     string           `json:"url,omitempty"`
	FPS     float64          `json:"fps,omitempty"`
	DirOpts DirectoryOptions `json:"dir_opts,omitempty"`
}

// FileSource returns a VideoSource for a single local file.
func FileSource(path string) VideoSource {
	return VideoSource{Kind: SourceFile, Path: path}
}

// DirectorySource returns a playlist source over a directory.
func DirectorySource(path string, opts DirectoryOptions) VideoSource {
	return VideoSource{Kind: SourceDirectory, Path: path, DirOpts: opts}
}

// URLSource returns a source backed by a network stream.
func URLSource(url string) VideoSource {
	return VideoSource{Kind: SourceURL, URL: url}
}

// PipeSource returns a source reading from a named pipe.
func PipeSource(path string) VideoSource {
	return VideoSource{Kind: SourcePipe, Path: path}
}

// ImageSequenceSource returns a source playing numbered frames at fps.
func ImageSequenceSource(path string, fps float64) VideoSource {
	return VideoSource{Kind: SourceImageSequence, Path: path, FPS: fps}
}

// ProjectBundleSource returns a source for an imported project directory.
func ProjectBundleSource(path string) VideoSource {
	return VideoSource{Kind: SourceProjectBundle, Path: path}
}

// SourceFromPath classifies a user-supplied path or URL into a VideoSource.
// Directories become playlist sources; everything else is treated as a file.
func SourceFromPath(path string, isDir bool) VideoSource {
	if strings.Contains(path, "://") {
		return URLSource(path)
	}
	if isDir {
		return DirectorySource(path, DirectoryOptions{Shuffle: true, Loop: true})
	}
	return FileSource(path)
}

// Display returns the user-facing identity of the source, the path or URL.
func (s VideoSource) Display() string {
	if s.Kind == SourceURL {
		return s.URL
	}
	return s.Path
}

// IsStreaming reports whether the source reads from the network.
func (s VideoSource) IsStreaming() bool {
	return s.Kind == SourceURL
}

// MpvTarget returns the string handed to the decoder's loadfile.
func (s VideoSource) MpvTarget() string {
	switch s.Kind {
	case SourceURL:
		return s.URL
	case SourceImageSequence:
		return "mf://" + filepath.Join(s.Path, "*")
	default:
		return s.Path
	}
}

// HwdecMode selects hardware decoding behaviour.
type HwdecMode int

const (
	// HwdecAuto tries hardware decoding and falls back to software
	HwdecAuto HwdecMode = iota

	// HwdecOff forces software decoding
	HwdecOff

	// HwdecForce requires hardware decoding; failure is fatal for the session
	HwdecForce
)

func (m HwdecMode) String() string {
	switch m {
	case HwdecOff:
		return "off"
	case HwdecForce:
		return "force"
	default:
		return "auto"
	}
}

// ParseHwdecMode parses the config spelling of a hwdec mode.
func ParseHwdecMode(s string) (HwdecMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return HwdecAuto, nil
	case "off", "no", "software":
		return HwdecOff, nil
	case "force", "yes":
		return HwdecForce, nil
	}
	return HwdecAuto, fmt.Errorf("unknown hwdec mode %q", s)
}

// DecodeParams are the per-decoder knobs that take part in the shared-decoder
// key. Layout, volume and mute are per-output consumer state and deliberately
// not part of the key.
type DecodeParams struct {
	Hwdec     HwdecMode `json:"hwdec"`
	StartTime float64   `json:"start_time,omitempty"`
	VideoID   int       `json:"video_id,omitempty"`
}

// SourceKey identifies a decode pipeline: sessions whose key compares equal may
// share one decoder.
type SourceKey struct {
	Source VideoSource
	Params DecodeParams
}

// String renders the key for logging and map diagnostics.
func (k SourceKey) String() string {
	return fmt.Sprintf("%s(%s) hwdec=%s start=%.2f vid=%d",
		k.Source.Kind, k.Source.Display(), k.Params.Hwdec, k.Params.StartTime, k.Params.VideoID)
}
