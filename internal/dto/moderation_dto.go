package dto

type CreateReportRequest struct {
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
	Reason      string `json:"reason"`
}

type BlockUserRequest struct {
	BlockedID string `json:"blocked_id"`
}
