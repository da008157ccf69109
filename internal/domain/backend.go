package domain

// OutboundRequest is the JSON body of a conversation turn.
// Image and ImageURL are set together or not at all.
type OutboundRequest struct {
	MessageID string `json:"message_id"`
	Query     string `json:"query"`
	Image     bool   `json:"image,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}
