package speech

// TTSRequest 文本转语音请求（/api/text-to-speech）。
type TTSRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Style   string `json:"style"`
}

// DefaultTTSVoice 是 /api/text-to-speech 未指定声音时的默认值。
var DefaultTTSVoice = Voice{ID: "en-US-ken", Style: "Conversational"}

// Voice returns the requested voice with DefaultTTSVoice filling the gaps.
func (r TTSRequest) Voice() Voice {
	return Voice{ID: r.VoiceID, Style: r.Style}.WithDefaults(DefaultTTSVoice)
}

// Voice 描述一次合成所用的 Murf 声音。
type Voice struct {
	ID    string
	Style string
}

// WithDefaults fills empty fields from def.
func (v Voice) WithDefaults(def Voice) Voice {
	if v.ID == "" {
		v.ID = def.ID
	}
	if v.Style == "" {
		v.Style = def.Style
	}
	return v
}
