package server

// Wire shapes for the JSON API.

type synthesizeRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Instruct string  `json:"instruct,omitempty"`
	Speed    float32 `json:"speed,omitempty"`
	Format   string  `json:"format,omitempty"`
}

type synthesizeResponse struct {
	Audio          string  `json:"audio"`
	Duration       float64 `json:"duration"`
	Format         string  `json:"format"`
	SampleRate     int     `json:"sample_rate"`
	ProcessingTime float64 `json:"processing_time"`
}

type voicesResponse struct {
	Voices []string `json:"voices"`
}

type transcriptionResponse struct {
	Text                string        `json:"text"`
	Segments            []wireSegment `json:"segments"`
	Language            string        `json:"language"`
	LanguageProbability float64       `json:"language_probability"`
	Duration            float64       `json:"duration"`
	InferenceTime       float64       `json:"inference_time"`
}

type wireSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Engine      string `json:"engine"`
	State       string `json:"state"`
	ModelLoaded bool   `json:"model_loaded"`
	GPUActive   bool   `json:"gpu_active"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// streamRequest is the inbound WebSocket message on /api/tts/stream.
type streamRequest struct {
	Type     string  `json:"type"`
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Instruct string  `json:"instruct,omitempty"`
	Speed    float32 `json:"speed,omitempty"`
}

// streamChunk is the outbound audio_chunk/complete WebSocket message. Data
// carries one base64 WAV unit for audio_chunk and is empty for complete.
type streamChunk struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`
	SequenceID int    `json:"sequence_id"`
	IsLast     bool   `json:"is_last"`
}

// streamError reports an in-band request failure without closing the
// connection.
type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
