package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	PTT        *jsoncPTT        `json:"ptt"`
	Mode       *jsoncMode       `json:"mode"`
	Audio      *jsoncAudio      `json:"audio"`
	Playback   *jsoncPlayback   `json:"playback"`
	Screenshot *jsoncScreenshot `json:"screenshot"`
	Signal     *jsoncSignal     `json:"signal"`
	Transcript *jsoncTranscript `json:"transcript"`
	Telemetry  *jsoncTelemetry  `json:"telemetry"`
	Control    *jsoncControl    `json:"control"`

	Vocab *jsoncVocab `json:"vocab"`
	Debug *jsoncDebug `json:"debug"`
}

type jsoncPTT struct {
	Key                  *string  `json:"key"`
	ShortPressThreshold  *float64 `json:"short_press_threshold"`
	LongPressThreshold   *float64 `json:"long_press_threshold"`
	EventCooldown        *float64 `json:"event_cooldown"`
	MinRecordingDuration *float64 `json:"min_recording_duration"`
}

type jsoncMode struct {
	ProcessingTimeoutSec  *float64 `json:"processing_timeout_sec"`
	ListeningTimeoutSec   *float64 `json:"listening_timeout_sec"`
	RequestDedupWindowSec *float64 `json:"request_dedup_window_sec"`
	ActionIntentTTLSec    *float64 `json:"action_intent_ttl_sec"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncPlayback struct {
	SampleRate         *int     `json:"sample_rate"`
	Channels           *int     `json:"channels"`
	TTSAutoGainEnabled *bool    `json:"tts_auto_gain_enabled"`
	TTSTargetPeak      *float64 `json:"tts_target_peak"`
	TTSSafeMaxGain     *float64 `json:"tts_safe_max_gain"`
	TTSHeadroomPeak    *float64 `json:"tts_headroom_peak"`
	SignalMaxAgeMS     *int     `json:"signal_max_age_ms"`
}

type jsoncScreenshot struct {
	Format    *string `json:"format"`
	Region    *string `json:"region"`
	Quality   *int    `json:"quality"`
	MaxWidth  *int    `json:"max_width"`
	MaxHeight *int    `json:"max_height"`
	Command   *string `json:"command"`
}

type jsoncSignal struct {
	Cooldowns map[string]int `json:"cooldowns"`
}

type jsoncTranscript struct {
	TrailingSpace       *bool `json:"trailing_space"`
	CapitalizeSentences *bool `json:"capitalize_sentences"`
}

type jsoncTelemetry struct {
	Enable       *bool   `json:"enable"`
	OTLPEndpoint *string `json:"otlp_endpoint"`
	ServiceName  *string `json:"service_name"`
}

type jsoncControl struct {
	SocketPath *string `json:"socket_path"`
}

type jsoncVocab struct {
	Global     *jsoncStringList         `json:"global"`
	MaxPhrases *int                     `json:"max_phrases"`
	Sets       map[string]jsoncVocabSet `json:"sets"`
}

type jsoncVocabSet struct {
	Boost   *float64 `json:"boost"`
	Phrases []string `json:"phrases"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
	EventDump *bool `json:"event_dump"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.PTT != nil {
		if payload.PTT.Key != nil {
			cfg.PTT.Key = strings.TrimSpace(*payload.PTT.Key)
		}
		if payload.PTT.ShortPressThreshold != nil {
			cfg.PTT.ShortPressThreshold = *payload.PTT.ShortPressThreshold
		}
		if payload.PTT.LongPressThreshold != nil {
			cfg.PTT.LongPressThreshold = *payload.PTT.LongPressThreshold
		}
		if payload.PTT.EventCooldown != nil {
			cfg.PTT.EventCooldown = *payload.PTT.EventCooldown
		}
		if payload.PTT.MinRecordingDuration != nil {
			cfg.PTT.MinRecordingDuration = *payload.PTT.MinRecordingDuration
		}
	}

	if payload.Mode != nil {
		if payload.Mode.ProcessingTimeoutSec != nil {
			cfg.Mode.ProcessingTimeoutSec = *payload.Mode.ProcessingTimeoutSec
		}
		if payload.Mode.ListeningTimeoutSec != nil {
			cfg.Mode.ListeningTimeoutSec = *payload.Mode.ListeningTimeoutSec
		}
		if payload.Mode.RequestDedupWindowSec != nil {
			cfg.Mode.RequestDedupWindowSec = *payload.Mode.RequestDedupWindowSec
		}
		if payload.Mode.ActionIntentTTLSec != nil {
			cfg.Mode.ActionIntentTTLSec = *payload.Mode.ActionIntentTTLSec
		}
	}

	if payload.Audio != nil {
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
	}

	if payload.Playback != nil {
		if payload.Playback.SampleRate != nil {
			cfg.Playback.SampleRate = *payload.Playback.SampleRate
		}
		if payload.Playback.Channels != nil {
			cfg.Playback.Channels = *payload.Playback.Channels
		}
		if payload.Playback.TTSAutoGainEnabled != nil {
			cfg.Playback.TTSAutoGainEnabled = *payload.Playback.TTSAutoGainEnabled
		}
		if payload.Playback.TTSTargetPeak != nil {
			cfg.Playback.TTSTargetPeak = *payload.Playback.TTSTargetPeak
		}
		if payload.Playback.TTSSafeMaxGain != nil {
			cfg.Playback.TTSSafeMaxGain = *payload.Playback.TTSSafeMaxGain
		}
		if payload.Playback.TTSHeadroomPeak != nil {
			cfg.Playback.TTSHeadroomPeak = *payload.Playback.TTSHeadroomPeak
		}
		if payload.Playback.SignalMaxAgeMS != nil {
			cfg.Playback.SignalMaxAgeMS = *payload.Playback.SignalMaxAgeMS
		}
	}

	if payload.Screenshot != nil {
		if payload.Screenshot.Format != nil {
			cfg.Screenshot.Format = strings.TrimSpace(*payload.Screenshot.Format)
		}
		if payload.Screenshot.Region != nil {
			cfg.Screenshot.Region = strings.TrimSpace(*payload.Screenshot.Region)
		}
		if payload.Screenshot.Quality != nil {
			cfg.Screenshot.Quality = *payload.Screenshot.Quality
		}
		if payload.Screenshot.MaxWidth != nil {
			cfg.Screenshot.MaxWidth = *payload.Screenshot.MaxWidth
		}
		if payload.Screenshot.MaxHeight != nil {
			cfg.Screenshot.MaxHeight = *payload.Screenshot.MaxHeight
		}
		if payload.Screenshot.Command != nil {
			raw := *payload.Screenshot.Command
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid screenshot.command: %w", err)
			}
			cfg.Screenshot.Command = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if payload.Signal != nil && payload.Signal.Cooldowns != nil {
		if cfg.Signal.Cooldowns == nil {
			cfg.Signal.Cooldowns = make(map[string]int)
		}
		for pattern, ms := range payload.Signal.Cooldowns {
			cfg.Signal.Cooldowns[strings.TrimSpace(pattern)] = ms
		}
	}

	if payload.Transcript != nil {
		if payload.Transcript.TrailingSpace != nil {
			cfg.Transcript.TrailingSpace = *payload.Transcript.TrailingSpace
		}
		if payload.Transcript.CapitalizeSentences != nil {
			cfg.Transcript.CapitalizeSentences = *payload.Transcript.CapitalizeSentences
		}
	}

	if payload.Telemetry != nil {
		if payload.Telemetry.Enable != nil {
			cfg.Telemetry.Enable = *payload.Telemetry.Enable
		}
		if payload.Telemetry.OTLPEndpoint != nil {
			cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(*payload.Telemetry.OTLPEndpoint)
		}
		if payload.Telemetry.ServiceName != nil {
			cfg.Telemetry.ServiceName = strings.TrimSpace(*payload.Telemetry.ServiceName)
		}
	}

	if payload.Control != nil && payload.Control.SocketPath != nil {
		cfg.Control.SocketPath = strings.TrimSpace(*payload.Control.SocketPath)
	}

	if payload.Vocab != nil {
		if payload.Vocab.Global != nil {
			cfg.Vocab.GlobalSets = cfg.Vocab.GlobalSets[:0]
			for _, name := range *payload.Vocab.Global {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				cfg.Vocab.GlobalSets = append(cfg.Vocab.GlobalSets, name)
			}
		}
		if payload.Vocab.MaxPhrases != nil {
			cfg.Vocab.MaxPhrases = *payload.Vocab.MaxPhrases
		}
		if payload.Vocab.Sets != nil {
			if cfg.Vocab.Sets == nil {
				cfg.Vocab.Sets = make(map[string]VocabSet)
			}
			for name, set := range payload.Vocab.Sets {
				trimmedName := strings.TrimSpace(name)
				if trimmedName == "" {
					return nil, fmt.Errorf("vocab.sets contains an empty set name")
				}

				phrases := make([]string, 0, len(set.Phrases))
				phrases = append(phrases, set.Phrases...)

				entry := VocabSet{Name: trimmedName, Phrases: phrases}
				if set.Boost != nil {
					entry.Boost = *set.Boost
				}
				cfg.Vocab.Sets[trimmedName] = entry
			}
		}
	}

	if payload.Debug != nil {
		if payload.Debug.AudioDump != nil {
			cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
		}
		if payload.Debug.EventDump != nil {
			cfg.Debug.EnableEventDump = *payload.Debug.EventDump
		}
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
