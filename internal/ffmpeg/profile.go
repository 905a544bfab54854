package ffmpeg

import (
	"strconv"
)

// Mode is a named transcoding mode requested by the caller.
type Mode string

const (
	ModeFast     Mode = "fast"     // quick H.264 encode, larger output
	ModeBalanced Mode = "balanced" // H.264 at a quality/size sweet spot
	ModeSmall    Mode = "small"    // HEVC, maximum compression
	ModeGIF      Mode = "gif"      // animated GIF excerpt encoding
	ModeAudio    Mode = "audio"    // strip video, AAC audio only
)

// DefaultMode is the documented fallback for unrecognized mode names.
const DefaultMode = ModeBalanced

// Capabilities describes what the host platform offers to profile selection.
type Capabilities struct {
	// HardwareEncoder reports whether a hardware H.264/HEVC encoder is usable.
	HardwareEncoder bool `json:"hardware_encoder"`
	// Threads is the encoder thread count hint (0 = ffmpeg default)
	Threads int `json:"threads"`
}

// Profile is a fully-specified transcoding command profile.
// Args are the output-side ffmpeg arguments; the runner supplies the input,
// overwrite and telemetry flags. Profiles are immutable once resolved.
type Profile struct {
	Mode        Mode     `json:"mode"`
	Description string   `json:"description"`
	Extension   string   `json:"extension"` // target container extension, without dot
	Hardware    bool     `json:"hardware"`
	Args        []string `json:"args"`
}

// profileKey selects a table entry by mode and hardware variant.
type profileKey struct {
	mode     Mode
	hardware bool
}

// profileTable declares every profile. Keeping selection data-driven means
// Resolve stays a pure lookup and the table is exhaustively testable.
var profileTable = map[profileKey]Profile{
	{ModeFast, false}: {
		Mode:        ModeFast,
		Description: "Fast H.264 (software, veryfast preset)",
		Extension:   "mp4",
		Args: []string{
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "28",
			"-c:a", "aac", "-b:a", "128k",
			"-movflags", "+faststart",
		},
	},
	{ModeFast, true}: {
		Mode:        ModeFast,
		Description: "Fast H.264 (hardware encoder)",
		Extension:   "mp4",
		Hardware:    true,
		Args: []string{
			"-c:v", "h264_videotoolbox", "-b:v", "4000k", "-allow_sw", "1",
			"-c:a", "aac", "-b:a", "128k",
			"-movflags", "+faststart",
		},
	},
	{ModeBalanced, false}: {
		Mode:        ModeBalanced,
		Description: "Balanced H.264 (software, medium preset)",
		Extension:   "mp4",
		Args: []string{
			"-c:v", "libx264", "-preset", "medium", "-crf", "23",
			"-c:a", "aac", "-b:a", "160k",
			"-movflags", "+faststart",
		},
	},
	{ModeBalanced, true}: {
		Mode:        ModeBalanced,
		Description: "Balanced H.264 (hardware encoder)",
		Extension:   "mp4",
		Hardware:    true,
		Args: []string{
			"-c:v", "h264_videotoolbox", "-b:v", "2500k", "-allow_sw", "1",
			"-c:a", "aac", "-b:a", "160k",
			"-movflags", "+faststart",
		},
	},
	{ModeSmall, false}: {
		Mode:        ModeSmall,
		Description: "Small HEVC (software, maximum compression)",
		Extension:   "mp4",
		Args: []string{
			"-c:v", "libx265", "-preset", "medium", "-crf", "28", "-tag:v", "hvc1",
			"-c:a", "aac", "-b:a", "96k",
			"-movflags", "+faststart",
		},
	},
	{ModeSmall, true}: {
		Mode:        ModeSmall,
		Description: "Small HEVC (hardware encoder)",
		Extension:   "mp4",
		Hardware:    true,
		Args: []string{
			"-c:v", "hevc_videotoolbox", "-b:v", "1500k", "-allow_sw", "1", "-tag:v", "hvc1",
			"-c:a", "aac", "-b:a", "96k",
			"-movflags", "+faststart",
		},
	},
	// GIF and audio-only modes have no hardware variants.
	{ModeGIF, false}: {
		Mode:        ModeGIF,
		Description: "Animated GIF (480px wide, 12fps)",
		Extension:   "gif",
		Args: []string{
			"-vf", "fps=12,scale=480:-1:flags=lanczos",
			"-loop", "0",
			"-an",
		},
	},
	{ModeAudio, false}: {
		Mode:        ModeAudio,
		Description: "Audio only (AAC)",
		Extension:   "m4a",
		Args: []string{
			"-vn",
			"-c:a", "aac", "-b:a", "192k",
		},
	},
}

// Resolve maps a requested mode and platform capabilities to a command
// profile. It is total: unknown modes fall back to DefaultMode, and modes
// without a hardware variant resolve to their software profile regardless
// of capabilities.
func Resolve(mode Mode, caps Capabilities) Profile {
	if _, ok := profileTable[profileKey{mode, false}]; !ok {
		mode = DefaultMode
	}

	profile, ok := profileTable[profileKey{mode, true}]
	if !ok || !caps.HardwareEncoder {
		profile = profileTable[profileKey{mode, false}]
	}

	// Copy args before appending the thread hint so table entries stay immutable.
	args := make([]string, len(profile.Args), len(profile.Args)+2)
	copy(args, profile.Args)
	if caps.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(caps.Threads))
	}
	profile.Args = args

	return profile
}

// Modes returns all recognized mode names in a stable order.
func Modes() []Mode {
	return []Mode{ModeFast, ModeBalanced, ModeSmall, ModeGIF, ModeAudio}
}

// ListProfiles returns the resolved profile for every recognized mode.
func ListProfiles(caps Capabilities) []Profile {
	modes := Modes()
	profiles := make([]Profile, 0, len(modes))
	for _, m := range modes {
		profiles = append(profiles, Resolve(m, caps))
	}
	return profiles
}
