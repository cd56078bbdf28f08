package config

import (
	"fmt"
	"sort"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.PTT.Key) == "" {
		return nil, fmt.Errorf("ptt.key must not be empty")
	}
	if cfg.PTT.ShortPressThreshold < 0 {
		return nil, fmt.Errorf("ptt.short_press_threshold must be >= 0")
	}
	if cfg.PTT.LongPressThreshold <= cfg.PTT.ShortPressThreshold {
		return nil, fmt.Errorf("ptt.long_press_threshold must be > ptt.short_press_threshold")
	}
	if cfg.PTT.EventCooldown < 0 {
		return nil, fmt.Errorf("ptt.event_cooldown must be >= 0")
	}
	if cfg.PTT.MinRecordingDuration < 0 {
		return nil, fmt.Errorf("ptt.min_recording_duration must be >= 0")
	}

	if cfg.Mode.ProcessingTimeoutSec < 0 {
		return nil, fmt.Errorf("mode.processing_timeout_sec must be >= 0")
	}
	if cfg.Mode.ListeningTimeoutSec < 0 {
		return nil, fmt.Errorf("mode.listening_timeout_sec must be >= 0")
	}
	if cfg.Mode.RequestDedupWindowSec < 0 {
		return nil, fmt.Errorf("mode.request_dedup_window_sec must be >= 0")
	}
	if cfg.Mode.ActionIntentTTLSec < 0 {
		return nil, fmt.Errorf("action_intent_ttl_sec must be >= 0")
	}

	if strings.TrimSpace(cfg.Audio.Input) == "" {
		return nil, fmt.Errorf("audio.input must not be empty")
	}

	if cfg.Playback.SampleRate <= 0 {
		return nil, fmt.Errorf("playback.sample_rate must be > 0")
	}
	if cfg.Playback.Channels <= 0 {
		return nil, fmt.Errorf("playback.channels must be > 0")
	}
	if cfg.Playback.TTSTargetPeak <= 0 || cfg.Playback.TTSTargetPeak > 1 {
		return nil, fmt.Errorf("tts_target_peak must be in (0, 1]")
	}
	if cfg.Playback.TTSSafeMaxGain <= 0 {
		return nil, fmt.Errorf("tts_safe_max_gain must be > 0")
	}
	if cfg.Playback.TTSHeadroomPeak <= 0 || cfg.Playback.TTSHeadroomPeak > 1 {
		return nil, fmt.Errorf("tts_headroom_peak must be in (0, 1]")
	}
	if cfg.Playback.SignalMaxAgeMS < 0 {
		return nil, fmt.Errorf("signal_max_age_ms must be >= 0")
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Screenshot.Format))
	if format == "" {
		return nil, fmt.Errorf("screenshot.format must not be empty")
	}
	if format != "jpeg" && format != "png" {
		return nil, fmt.Errorf("screenshot.format must be one of: jpeg, png")
	}
	if cfg.Screenshot.Quality <= 0 || cfg.Screenshot.Quality > 100 {
		return nil, fmt.Errorf("screenshot.quality must be in (0, 100]")
	}
	if cfg.Screenshot.MaxWidth < 0 || cfg.Screenshot.MaxHeight < 0 {
		return nil, fmt.Errorf("screenshot.max_width and max_height must be >= 0")
	}

	for pattern, ms := range cfg.Signal.Cooldowns {
		if ms < 0 {
			return nil, fmt.Errorf("signal.cooldowns[%s] must be >= 0", pattern)
		}
	}

	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}

	if cfg.Telemetry.Enable && strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
		return nil, fmt.Errorf("telemetry.otlp_endpoint must not be empty when telemetry.enable=true")
	}

	if strings.TrimSpace(cfg.Control.SocketPath) == "" {
		return nil, fmt.Errorf("control.socket_path must not be empty")
	}

	_, vocabWarnings, err := BuildSpeechPhrases(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

// BuildSpeechPhrases merges enabled vocab sets into deterministic phrase
// boost payloads for vocabulary-aware recognition backends.
func BuildSpeechPhrases(cfg Config) ([]SpeechPhrase, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if existing, exists := selected[phrase]; exists {
				if set.Boost > existing.boost {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
					selected[phrase] = candidate{boost: set.Boost, from: name}
				}
				continue
			}
			selected[phrase] = candidate{boost: set.Boost, from: name}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("vocabulary phrase count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	phrases := make([]SpeechPhrase, 0, len(selected))
	for phrase, c := range selected {
		phrases = append(phrases, SpeechPhrase{Phrase: phrase, Boost: float32(c.boost)})
	}

	sort.Slice(phrases, func(i, j int) bool {
		if phrases[i].Phrase == phrases[j].Phrase {
			return phrases[i].Boost < phrases[j].Boost
		}
		return phrases[i].Phrase < phrases[j].Phrase
	})

	return phrases, warnings, nil
}
