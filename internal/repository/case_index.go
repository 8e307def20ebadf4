package repository

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/timmy/bloodcell/internal/config"
	"github.com/timmy/bloodcell/internal/domain"
	"github.com/timmy/bloodcell/internal/inference"
)

// Payload keys stored with every indexed profile.
const (
	payloadAnalysisID = "analysis_id"
	payloadDiseases   = "diseases"
	payloadCreatedAt  = "created_at"
)

// CaseIndex stores cell-count profiles in Qdrant for similar-case lookup.
// Point IDs are analysis IDs and vectors come from RangeTable.Profile.
type CaseIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewCaseIndex dials Qdrant over gRPC. TLS is used when UseTLS is set or an
// API key is configured (Qdrant Cloud).
func NewCaseIndex(cfg *config.QdrantConfig) (*CaseIndex, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := grpc.NewClient(addr, dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", addr, err)
	}
	return &CaseIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
	}, nil
}

func dialOptions(cfg *config.QdrantConfig) []grpc.DialOption {
	if !cfg.UseTLS && cfg.APIKey == "" {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})),
	}
	if cfg.APIKey != "" {
		key := cfg.APIKey
		opts = append(opts, grpc.WithUnaryInterceptor(
			func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
				return invoker(metadata.AppendToOutgoingContext(ctx, "api-key", key), method, req, reply, cc, callOpts...)
			}))
	}
	return opts
}

// Close releases the gRPC connection.
func (x *CaseIndex) Close() error {
	return x.conn.Close()
}

// Ping checks that the collection is reachable.
func (x *CaseIndex) Ping(ctx context.Context) error {
	_, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: x.collection})
	return err
}

// EnsureCollection creates the collection on first use and rejects an
// existing one whose vector size does not match the profile dimension.
func (x *CaseIndex) EnsureCollection(ctx context.Context) error {
	want := uint64(inference.ProfileDimension)
	info, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: x.collection})
	if err == nil {
		if got := vectorSize(info.GetResult()); got != 0 && got != want {
			return fmt.Errorf("collection %s has vector size %d, expected %d", x.collection, got, want)
		}
		return nil
	}

	params := &pb.VectorParams{Size: want, Distance: pb.Distance_Cosine}
	if _, err := x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig:  &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: params}},
	}); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", x.collection, err)
	}
	return nil
}

// vectorSize is zero when the collection uses named vectors.
func vectorSize(info *pb.CollectionInfo) uint64 {
	return info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
}

// Upsert indexes the cell-count profile of a completed analysis.
func (x *CaseIndex) Upsert(ctx context.Context, result domain.AnalysisResult) error {
	id, err := pointID(result.AnalysisID)
	if err != nil {
		return err
	}
	payload, err := casePayload(result)
	if err != nil {
		return err
	}

	point := &pb.PointStruct{
		Id:      id,
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: inference.DefaultRanges.Profile(result.CellCounts)}}},
		Payload: payload,
	}
	if _, err := x.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: x.collection, Points: []*pb.PointStruct{point}}); err != nil {
		return fmt.Errorf("failed to index analysis %s: %w", result.AnalysisID, err)
	}
	return nil
}

// Search returns the closest prior cases to counts, excluding excludeID.
func (x *CaseIndex) Search(ctx context.Context, counts domain.CellCounts, limit int, excludeID string) ([]domain.SimilarCase, error) {
	req := &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         inference.DefaultRanges.Profile(counts),
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if excludeID != "" {
		filter, err := excludeFilter(excludeID)
		if err != nil {
			return nil, err
		}
		req.Filter = filter
	}

	resp, err := x.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar cases: %w", err)
	}
	cases := make([]domain.SimilarCase, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		cases = append(cases, parseCase(hit.GetId().GetUuid(), hit.GetScore(), hit.GetPayload()))
	}
	return cases, nil
}

// Delete removes the profile of an analysis.
func (x *CaseIndex) Delete(ctx context.Context, analysisID string) error {
	id, err := pointID(analysisID)
	if err != nil {
		return err
	}
	selector := &pb.PointsSelector{
		PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: []*pb.PointId{id}}},
	}
	if _, err := x.points.Delete(ctx, &pb.DeletePoints{CollectionName: x.collection, Points: selector}); err != nil {
		return fmt.Errorf("failed to remove analysis %s from index: %w", analysisID, err)
	}
	return nil
}

func pointID(analysisID string) (*pb.PointId, error) {
	uid, err := uuid.Parse(analysisID)
	if err != nil {
		return nil, fmt.Errorf("invalid point ID %q: %w", analysisID, err)
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}}, nil
}

func excludeFilter(analysisID string) (*pb.Filter, error) {
	id, err := pointID(analysisID)
	if err != nil {
		return nil, err
	}
	cond := &pb.Condition{ConditionOneOf: &pb.Condition_HasId{HasId: &pb.HasIdCondition{HasId: []*pb.PointId{id}}}}
	return &pb.Filter{MustNot: []*pb.Condition{cond}}, nil
}

func casePayload(result domain.AnalysisResult) (map[string]*pb.Value, error) {
	diseases, err := json.Marshal(result.Diseases)
	if err != nil {
		return nil, err
	}
	str := func(s string) *pb.Value { return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}} }
	return map[string]*pb.Value{
		payloadAnalysisID: str(result.AnalysisID),
		payloadDiseases:   str(string(diseases)),
		payloadCreatedAt:  str(result.CreatedAt.UTC().Format(time.RFC3339)),
	}, nil
}

func parseCase(id string, score float32, payload map[string]*pb.Value) domain.SimilarCase {
	c := domain.SimilarCase{AnalysisID: id, Score: score}
	if s := payload[payloadAnalysisID].GetStringValue(); s != "" {
		c.AnalysisID = s
	}
	if s := payload[payloadDiseases].GetStringValue(); s != "" {
		_ = json.Unmarshal([]byte(s), &c.Diseases)
	}
	if t, err := time.Parse(time.RFC3339, payload[payloadCreatedAt].GetStringValue()); err == nil {
		c.CreatedAt = t
	}
	return c
}
