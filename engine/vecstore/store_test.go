package vecstore

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/answerly/engine/engine/domain"
)

// --- mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	deleteReq  *pb.DeletePoints
	deleteErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	indexReq   *pb.CreateFieldIndexCollection
	indexErr   error
	calls      int
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.calls++
	m.upsertReq = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.calls++
	m.deleteReq = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.calls++
	m.searchReq = in
	return m.searchResp, m.searchErr
}

func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.calls++
	m.indexReq = in
	return &pb.PointsOperationResponse{}, m.indexErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	createErr error
	created   *pb.CreateCollection
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

// --- tests ---

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "kb"}},
		},
	}
	vs := NewWithClients(pts, cols, "kb")
	if err := vs.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.created != nil {
		t.Error("should not create an existing collection")
	}
}

func TestEnsureCollection_CreatesWithTenantIndex(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	vs := NewWithClients(pts, cols, "kb")
	if err := vs.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 1536 {
		t.Errorf("dims = %d, want 1536", params.GetSize())
	}
	if params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("distance = %v, want cosine", params.GetDistance())
	}
	if pts.indexReq.GetFieldName() != "chatbot_id" {
		t.Errorf("payload index on %q, want chatbot_id", pts.indexReq.GetFieldName())
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, "kb")
	if err := vs.EnsureCollection(context.Background(), 1536); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "kb")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.calls != 0 {
		t.Errorf("empty upsert made %d network calls, want 0", pts.calls)
	}
}

func TestUpsert_BuildsPayload(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "kb")

	records := []VectorRecord{{
		ID:        "11111111-1111-1111-1111-111111111111",
		QAID:      "q1",
		ChatbotID: "t1",
		Question:  "What are your hours?",
		Answer:    "9-5 Mon-Fri",
		Model:     "text-embedding-3-small",
		Embedding: []float32{0.1, 0.2},
	}}
	if err := vs.Upsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !pts.upsertReq.GetWait() {
		t.Error("upsert should wait for the write")
	}
	pt := pts.upsertReq.GetPoints()[0]
	if pt.GetId().GetUuid() != records[0].ID {
		t.Errorf("point id = %s", pt.GetId().GetUuid())
	}
	payload := pt.GetPayload()
	for key, want := range map[string]string{
		"qa_id":           "q1",
		"chatbot_id":      "t1",
		"question":        "What are your hours?",
		"answer":          "9-5 Mon-Fri",
		"embedding_model": "text-embedding-3-small",
	} {
		if got := payload[key].GetStringValue(); got != want {
			t.Errorf("payload[%s] = %q, want %q", key, got, want)
		}
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "kb")
	err := vs.Upsert(context.Background(), []VectorRecord{{ID: "p1", Embedding: []float32{1}}})
	var ie *domain.IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IndexError, got %v", err)
	}
	if !domain.Retryable(err) {
		t.Error("index failures should be retryable")
	}
}

func TestDeleteByIDs_Empty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "kb")
	if err := vs.DeleteByIDs(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.calls != 0 {
		t.Errorf("empty delete made %d network calls, want 0", pts.calls)
	}
}

func TestDeleteByIDs_Success(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "kb")
	if err := vs.DeleteByIDs(context.Background(), []string{"p1", "p2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := pts.deleteReq.GetPoints().GetPoints().GetIds()
	if len(ids) != 2 || ids[0].GetUuid() != "p1" || ids[1].GetUuid() != "p2" {
		t.Errorf("wrong ids selector: %v", ids)
	}
}

func TestDeleteByChatbot(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "kb")
	if err := vs.DeleteByChatbot(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cond := pts.deleteReq.GetPoints().GetFilter().GetMust()[0].GetField()
	if cond.GetKey() != "chatbot_id" || cond.GetMatch().GetKeyword() != "t1" {
		t.Errorf("wrong filter: %v", cond)
	}
}

func TestQuery_AlwaysCarriesTenantFilter(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "kb")
	if _, err := vs.Query(context.Background(), []float32{1, 0}, 5, "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	must := pts.searchReq.GetFilter().GetMust()
	if len(must) != 1 {
		t.Fatalf("expected exactly one filter condition, got %d", len(must))
	}
	fc := must[0].GetField()
	if fc.GetKey() != "chatbot_id" || fc.GetMatch().GetKeyword() != "t1" {
		t.Errorf("wrong tenant filter: %v", fc)
	}
	if pts.searchReq.GetLimit() != 5 {
		t.Errorf("limit = %d, want 5", pts.searchReq.GetLimit())
	}
}

func TestQuery_MapsHits(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
					Score: 0.91,
					Payload: map[string]*pb.Value{
						"qa_id":           stringValue("q1"),
						"chatbot_id":      stringValue("t1"),
						"question":        stringValue("What are your hours?"),
						"answer":          stringValue("9-5 Mon-Fri"),
						"embedding_model": stringValue("text-embedding-3-small"),
					},
				},
				{
					// Absent payload: all fields come back zero-valued.
					Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p2"}},
				},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, "kb")
	hits, err := vs.Query(context.Background(), []float32{1}, 5, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	h := hits[0]
	if h.ID != "p1" || h.Score != 0.91 || h.QAID != "q1" || h.ChatbotID != "t1" {
		t.Errorf("wrong hit: %+v", h)
	}
	if h.Question != "What are your hours?" || h.Answer != "9-5 Mon-Fri" || h.Model != "text-embedding-3-small" {
		t.Errorf("wrong payload mapping: %+v", h)
	}
	empty := hits[1]
	if empty.Score != 0 || empty.Question != "" || empty.Answer != "" {
		t.Errorf("absent payload should map to zero values: %+v", empty)
	}
}

func TestQuery_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("rpc fail")}
	vs := NewWithClients(pts, &mockCollections{}, "kb")
	_, err := vs.Query(context.Background(), []float32{1}, 5, "t1")
	var ie *domain.IndexError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IndexError, got %v", err)
	}
}

func TestClose_NilConn(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "kb")
	if err := vs.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
