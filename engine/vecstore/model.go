package vecstore

// VectorRecord is the denormalized projection of one QAPair stored in the
// index. Lifecycle is strictly derived: created on QAPair creation, replaced
// on update, deleted on deletion. ID is the index point id; QAID keeps the
// owning QAPair id in the payload so hits can be mapped back.
type VectorRecord struct {
	ID        string
	QAID      string
	ChatbotID string
	Question  string
	Answer    string
	Model     string // embedding model version used to produce Embedding
	Embedding []float32
}

// Hit is a single raw similarity-search result. Payload fields absent on the
// stored point come back as zero values; substitution rules live in the
// retriever, not here.
type Hit struct {
	ID        string
	Score     float32
	QAID      string
	ChatbotID string
	Question  string
	Answer    string
	Model     string
}
