package model

type TriggerRequest struct {
	Journey   string         `json:"journey"`
	SubjectId string         `json:"subjectId"`
	Data      map[string]any `json:"data"`
}

type SendRequest struct {
	SendId     string         `json:"sendId"`
	TemplateId string         `json:"templateId"`
	Recipient  string         `json:"recipient"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type WakeMessage struct {
	RunId string `json:"runId"`
}
