package entities

// MetadataKeyRoleID is the segment metadata field carrying the owning role
const MetadataKeyRoleID = "role_id"

// MetadataKeyFileName is the segment metadata field carrying the source file
const MetadataKeyFileName = "file_name"

// RetrievedSegment is a piece of knowledge returned by a similarity search
type RetrievedSegment struct {
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// RoleID returns the role identifier carried in the segment metadata
func (s RetrievedSegment) RoleID() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[MetadataKeyRoleID]
}

// ConversationState is the rolling per-session memory carried between turns.
// All fields are empty at session start.
type ConversationState struct {
	LastQuery           string `json:"last_query" bson:"last_query"`
	TopicSummary        string `json:"topic_summary" bson:"topic_summary"`
	MemorySummary       string `json:"memory_summary" bson:"memory_summary"`
	LastEscalatedRoleID string `json:"last_escalated_role_id,omitempty" bson:"last_escalated_role_id,omitempty"`
}

// TurnOutcome classifies how a turn was answered
type TurnOutcome string

const (
	TurnOutcomeAnswered    TurnOutcome = "answered"
	TurnOutcomeEscalated   TurnOutcome = "escalated"
	TurnOutcomeNoKnowledge TurnOutcome = "no_knowledge"
)

// TurnResult is produced once per completed turn. Empty strings mean "none".
type TurnResult struct {
	Outcome TurnOutcome `json:"outcome"`

	// TransferText is spoken before the answer, only when escalation happened
	TransferText string `json:"transfer_text,omitempty"`
	FinalText    string `json:"final_text"`
	// AnsweringRoleID is set only when the answering role differs from the requested one
	AnsweringRoleID string `json:"answering_role_id,omitempty"`

	State ConversationState `json:"state"`
}

// Escalated reports whether another role answered this turn
func (r TurnResult) Escalated() bool {
	return r.AnsweringRoleID != ""
}
