package dto

type WebhookResponse struct {
	Error     string `json:"error,omitempty"`
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
