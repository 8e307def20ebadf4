package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/bloodcell/internal/config"
	"github.com/timmy/bloodcell/internal/domain"
)

func TestCasePayload_RoundTripsThroughParseCase(t *testing.T) {
	id := uuid.NewString()
	created := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	result := domain.AnalysisResult{
		AnalysisID: id,
		Diseases:   domain.Findings{{Name: "Bacterial Infection", Confidence: 70, Severity: domain.SeverityMedium}},
		CreatedAt:  created,
	}

	payload, err := casePayload(result)
	require.NoError(t, err)

	c := parseCase(id, 0.93, payload)
	assert.Equal(t, id, c.AnalysisID)
	assert.InDelta(t, 0.93, c.Score, 1e-6)
	require.Len(t, c.Diseases, 1)
	assert.Equal(t, "Bacterial Infection", c.Diseases[0].Name)
	assert.True(t, created.Equal(c.CreatedAt))
}

func TestParseCase_MissingPayload(t *testing.T) {
	c := parseCase("p1", 0.5, nil)
	assert.Equal(t, "p1", c.AnalysisID)
	assert.Empty(t, c.Diseases)
	assert.True(t, c.CreatedAt.IsZero())
}

func TestPointID(t *testing.T) {
	id := uuid.NewString()
	p, err := pointID(id)
	require.NoError(t, err)
	assert.Equal(t, id, p.GetUuid())

	_, err = pointID("not-a-uuid")
	assert.Error(t, err)

	f, err := excludeFilter(id)
	require.NoError(t, err)
	require.Len(t, f.GetMustNot(), 1)
	assert.Equal(t, id, f.GetMustNot()[0].GetHasId().GetHasId()[0].GetUuid())
}

func TestVectorSize(t *testing.T) {
	assert.Zero(t, vectorSize(nil))

	info := &pb.CollectionInfo{Config: &pb.CollectionConfig{Params: &pb.CollectionParams{
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{Size: 7}}},
	}}}
	assert.Equal(t, uint64(7), vectorSize(info))
}

func TestDialOptions(t *testing.T) {
	assert.Len(t, dialOptions(&config.QdrantConfig{}), 1)
	assert.Len(t, dialOptions(&config.QdrantConfig{UseTLS: true}), 1)
	assert.Len(t, dialOptions(&config.QdrantConfig{APIKey: "k"}), 2)
}
