package models

// TranscriptionRequest 참가자 녹음 전사 요청
type TranscriptionRequest struct {
	AudioURL  string `json:"audio_url"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Language  string `json:"language,omitempty"`
}

// Transcription 녹음 전사 결과
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
}

// AudioAnalysisRequest 참가자 녹음 발음 평가 요청 (reference_text는 필수)
type AudioAnalysisRequest struct {
	AudioURL      string `json:"audio_url"`
	ReferenceText string `json:"reference_text"`
	UserID        string `json:"user_id"`
	Language      string `json:"language,omitempty"`
}

// AudioAnalysis 발음/유창성 점수
type AudioAnalysis struct {
	AccuracyScore      float64 `json:"accuracy_score"`
	FluencyScore       float64 `json:"fluency_score"`
	CompletenessScore  float64 `json:"completeness_score"`
	PronunciationScore float64 `json:"pronunciation_score"`
}

// FeedbackRequest 텍스트 기반 피드백 요청
type FeedbackRequest struct {
	Text      string `json:"text"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Context   string `json:"context,omitempty"`
}

// Feedback 실수 목록과 영역별 점수
type Feedback struct {
	CEFRLevel          string    `json:"cefr_level"`
	Mistakes           []Mistake `json:"mistakes"`
	WordsPerMinute     float64   `json:"wpm"`
	GrammarScore       float64   `json:"grammar_score"`
	PronunciationScore float64   `json:"pronunciation_score"`
	FluencyScore       float64   `json:"fluency_score"`
	VocabularyScore    float64   `json:"vocabulary_score"`
	OverallScore       float64   `json:"overall_score"`
	Summary            string    `json:"feedback"`
}
