// Package config resolves, parses, validates, and defaults sottod configuration.
package config

// Config is the fully materialized runtime configuration used by sottod.
type Config struct {
	PTT        PTTConfig
	Mode       ModeConfig
	Audio      AudioConfig
	Playback   PlaybackConfig
	Screenshot ScreenshotConfig
	Signal     SignalConfig
	Transcript TranscriptConfig
	Vocab      VocabConfig
	Telemetry  TelemetryConfig
	Control    ControlConfig
	Debug      DebugConfig
}

// PTTConfig holds the push-to-talk settings. Only LongPressThreshold and
// MinRecordingDuration reach the translator; ShortPressThreshold and
// EventCooldown are loaded but not read, and Key only decides whether
// doctor runs its PTT backend check (the darwin backend does not read it).
type PTTConfig struct {
	Key                  string
	ShortPressThreshold  float64
	LongPressThreshold   float64
	EventCooldown        float64
	MinRecordingDuration float64
}

// ModeConfig controls the mode controller's dedup window, per-mode
// timeouts, and how long a pending action intent defers sleep.
type ModeConfig struct {
	ProcessingTimeoutSec  float64
	ListeningTimeoutSec   float64
	RequestDedupWindowSec float64
	ActionIntentTTLSec    float64
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// PlaybackConfig holds the playback settings. Only SampleRate reaches the
// output device (always mono S16); Channels, the TTS auto-gain fields and
// SignalMaxAgeMS are loaded but not read, and playback.Player always
// applies its built-in auto-gain.
type PlaybackConfig struct {
	SampleRate         int
	Channels           int
	TTSAutoGainEnabled bool
	TTSTargetPeak      float64
	TTSSafeMaxGain     float64
	TTSHeadroomPeak    float64
	SignalMaxAgeMS     int
}

// ScreenshotConfig holds the screenshot settings. Only Command reaches the
// capturer; Format, Region, Quality, MaxWidth and MaxHeight are loaded but
// not applied to captures.
type ScreenshotConfig struct {
	Format    string
	Region    string
	Quality   int
	MaxWidth  int
	MaxHeight int
	Command   CommandConfig
}

// SignalConfig holds per-pattern cooldowns, in milliseconds. They are
// loaded but not passed to signal.Service, which always uses its built-in
// cooldowns.
type SignalConfig struct {
	Cooldowns map[string]int
}

// TranscriptConfig controls transcript assembly formatting.
type TranscriptConfig struct {
	TrailingSpace       bool
	CapitalizeSentences bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// VocabConfig controls enabled speech phrase sets and dedupe limits.
type VocabConfig struct {
	GlobalSets []string
	Sets       map[string]VocabSet
	MaxPhrases int
}

// VocabSet is one named phrase group with a shared boost value.
type VocabSet struct {
	Name    string
	Boost   float64
	Phrases []string
}

// TelemetryConfig controls OTLP span/metric export.
type TelemetryConfig struct {
	Enable       bool
	OTLPEndpoint string
	ServiceName  string
}

// ControlConfig controls the daemon's local control-plane socket.
type ControlConfig struct {
	SocketPath string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	EnableEventDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// SpeechPhrase is the normalized phrase payload sent to vocabulary-aware
// ASR adapters.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}
