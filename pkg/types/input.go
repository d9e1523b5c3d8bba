package types

// ResponseType defines how the user answered a prompt.
type ResponseType string

const (
	ResponseTypeConfirm ResponseType = "confirm" // ResponseTypeConfirm indicates the user accepted a confirmation.
	ResponseTypeDecline ResponseType = "decline" // ResponseTypeDecline indicates the user declined a confirmation.
	ResponseTypeChoice  ResponseType = "choice"  // ResponseTypeChoice indicates the user entered a value.
	ResponseTypeCancel  ResponseType = "cancel"  // ResponseTypeCancel indicates the user dismissed the prompt.
)

// PromptResponse is the host's answer to a Prompt.
type PromptResponse struct {
	// RequestID matches Prompt.ID.
	RequestID string

	// Value is the entered text for choice responses.
	Value string

	// Type indicates the kind of answer.
	Type ResponseType
}

// NewConfirmResponse answers a confirmation prompt.
func NewConfirmResponse(requestID string, accepted bool) *PromptResponse {
	t := ResponseTypeDecline
	if accepted {
		t = ResponseTypeConfirm
	}
	return &PromptResponse{RequestID: requestID, Type: t}
}

// NewChoiceResponse answers a choice prompt with value.
func NewChoiceResponse(requestID, value string) *PromptResponse {
	return &PromptResponse{RequestID: requestID, Type: ResponseTypeChoice, Value: value}
}

// NewCancelResponse dismisses a prompt without answering.
func NewCancelResponse(requestID string) *PromptResponse {
	return &PromptResponse{RequestID: requestID, Type: ResponseTypeCancel}
}
