package model

// CreatePresentationRequest is the body of POST /presentations
type CreatePresentationRequest struct {
	SlideCount int    `json:"slideCount" validate:"omitempty,min=1,max=50"`
	Topic      string `json:"topic" validate:"omitempty,max=500"`
}

// PresentationParams holds the path and query identifiers of a presentation.
type PresentationParams struct {
	JobID string `validate:"required,max=128,printascii"`
}
