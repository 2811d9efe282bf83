// Package vecstore is the sole owner of all Qdrant operations for the
// knowledge-base index. Points are partitioned by tenant through the
// chatbot_id payload field; every query carries an equality filter on it.
package vecstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/answerly/engine/engine/domain"
)

// Payload keys stored alongside each vector.
const (
	payloadQAID      = "qa_id"
	payloadChatbotID = "chatbot_id"
	payloadQuestion  = "question"
	payloadAnswer    = "answer"
	payloadModel     = "embedding_model"
)

// pointsAPI is the slice of pb.PointsClient this store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient this store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore owns the Qdrant connection and collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// When apiKey is non-empty it is attached to every RPC as api-key metadata.
func New(addr, apiKey, collection string) (*VectorStore, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if apiKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(apiKey)))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("vecstore: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a VectorStore from existing clients. Used in tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist and indexes the
// chatbot_id payload field so tenant filters stay cheap. dims must match the
// embedding provider's output dimensionality.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return domain.NewIndexError("list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return domain.NewIndexError(fmt.Sprintf("create collection %s", v.collection), err)
	}

	wait := true
	fieldType := pb.FieldType_FieldTypeKeyword
	_, err = v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: v.collection,
		Wait:           &wait,
		FieldName:      payloadChatbotID,
		FieldType:      &fieldType,
	})
	if err != nil {
		return domain.NewIndexError(fmt.Sprintf("index %s field", payloadChatbotID), err)
	}
	return nil
}

// Upsert writes records to the index. Insert-or-replace keyed by point id:
// upserting the same id twice leaves exactly one point reflecting the latest
// content. No-op on empty input.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				payloadQAID:      stringValue(r.QAID),
				payloadChatbotID: stringValue(r.ChatbotID),
				payloadQuestion:  stringValue(r.Question),
				payloadAnswer:    stringValue(r.Answer),
				payloadModel:     stringValue(r.Model),
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return domain.NewIndexError(fmt.Sprintf("upsert %d points", len(records)), err)
	}
	return nil
}

// DeleteByIDs removes points by id. Deleting ids that don't exist is not an
// error. No-op on empty input.
func (v *VectorStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return domain.NewIndexError(fmt.Sprintf("delete %d points", len(ids)), err)
	}
	return nil
}

// DeleteByChatbot removes every point belonging to a tenant. Used when a
// chatbot is deleted.
func (v *VectorStore) DeleteByChatbot(ctx context.Context, chatbotID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch(payloadChatbotID, chatbotID),
					},
				},
			},
		},
	})
	if err != nil {
		return domain.NewIndexError(fmt.Sprintf("delete by chatbot_id %s", chatbotID), err)
	}
	return nil
}

// Query performs k-NN search restricted to one tenant. The chatbot_id filter
// is mandatory; there is no unfiltered search path. Results come back in the
// index's own descending-score order.
func (v *VectorStore) Query(ctx context.Context, embedding []float32, topK int, chatbotID string) ([]Hit, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter: &pb.Filter{
			Must: []*pb.Condition{
				fieldMatch(payloadChatbotID, chatbotID),
			},
		},
	})
	if err != nil {
		return nil, domain.NewIndexError("search", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		hits[i] = Hit{
			ID:        r.GetId().GetUuid(),
			Score:     r.GetScore(),
			QAID:      payload[payloadQAID].GetStringValue(),
			ChatbotID: payload[payloadChatbotID].GetStringValue(),
			Question:  payload[payloadQuestion].GetStringValue(),
			Answer:    payload[payloadAnswer].GetStringValue(),
			Model:     payload[payloadModel].GetStringValue(),
		}
	}
	return hits, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
