// Package domain defines the core types, error taxonomy, and validation for
// the Answerly retrieval engine. It acts as the validation gate at the entry
// points of the sync and retrieve paths.
package domain

// QAPair is one question-answer entry in a tenant's knowledge base. The
// relational store owned by the CRUD layer is the source of truth; the vector
// index only ever holds a projection derived from it.
type QAPair struct {
	ID        string `json:"id"`
	ChatbotID string `json:"chatbot_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
}

// QueryMatch is a single scored retrieval hit. Ephemeral: produced per
// retrieve call, handed to the answer-generation stage, never persisted.
type QueryMatch struct {
	ID       string  `json:"id"`
	Score    float32 `json:"score"`
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
}
