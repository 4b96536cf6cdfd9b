package speech

// PipelineResponse 是所有语音接口的统一响应。
type PipelineResponse struct {
	Transcript  string `json:"transcript"`
	LLMResponse string `json:"llm_response"`
	AudioURL    string `json:"audio_url"`
}

// UploadResponse 上传接口响应。
type UploadResponse struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeInBytes int64  `json:"size_in_bytes"`
}
