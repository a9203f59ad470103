package backend

import "time"

// Config holds configuration for the conversation API client.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Request is the body posted to the conversation API.
type Request struct {
	Speaker        *Speaker `json:"conversation_speaker,omitempty"`
	Text           string   `json:"text"`
	AgentID        string   `json:"agent_id"`
	ConversationID string   `json:"conversation_id"`
}

// Speaker identifies the person talking to the backend.
type Speaker struct {
	ID string `json:"id"`
}

// Reply is the text to relay back to the chat channel.
type Reply struct {
	// Err is set when Text describes a failure rather than an answer.
	Err  error
	Text string
}

// ErrorReply turns a failed request into a reply the user can read.
func ErrorReply(err error) Reply {
	return Reply{
		Text: "Error communicating with Home Assistant: " + err.Error(),
		Err:  err,
	}
}
