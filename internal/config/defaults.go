package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		PTT: PTTConfig{
			Key:                  "left_shift",
			ShortPressThreshold:  0.1,
			LongPressThreshold:   0.6,
			EventCooldown:        0.1,
			MinRecordingDuration: 0.6,
		},
		Mode: ModeConfig{
			ProcessingTimeoutSec:  0,
			ListeningTimeoutSec:   0,
			RequestDedupWindowSec: 0.5,
			ActionIntentTTLSec:    3.0,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Playback: PlaybackConfig{
			SampleRate:         48000,
			Channels:           1,
			TTSAutoGainEnabled: false,
			TTSTargetPeak:      0.35,
			TTSSafeMaxGain:     2.5,
			TTSHeadroomPeak:    0.90,
			SignalMaxAgeMS:     1200,
		},
		Screenshot: ScreenshotConfig{
			Format:    "jpeg",
			Region:    "full_screen",
			Quality:   85,
			MaxWidth:  0,
			MaxHeight: 0,
		},
		Signal: SignalConfig{
			Cooldowns: map[string]int{
				"listening":  150,
				"processing": 150,
				"complete":   200,
				"cancel":     200,
				"error":      300,
			},
		},
		Transcript: TranscriptConfig{
			TrailingSpace:       true,
			CapitalizeSentences: true,
		},
		Vocab: VocabConfig{
			GlobalSets: nil,
			Sets:       map[string]VocabSet{},
			MaxPhrases: 1024,
		},
		Telemetry: TelemetryConfig{
			Enable:       false,
			OTLPEndpoint: "127.0.0.1:4317",
			ServiceName:  "sottod",
		},
		Control: ControlConfig{
			SocketPath: defaultSocketPath(),
		},
		Debug: DebugConfig{},
	}
}
