package classifier

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/bloodcell/internal/preprocess"
)

// RemoteConfig holds configuration for the HTTP model server client.
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	Timeout  int // seconds
}

// Remote calls a model server that accepts a float32 tensor and returns cell counts.
type Remote struct {
	client   *resty.Client
	endpoint string
}

// NewRemote creates a remote classifier.
// Parameters:
//   - cfg: endpoint, optional bearer key and request timeout.
//
// Returns:
//   - *Remote: initialized client wrapper.
func NewRemote(cfg RemoteConfig) *Remote {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	return &Remote{client: client, endpoint: cfg.Endpoint}
}

// Name returns the provider name.
func (r *Remote) Name() string { return ProviderRemote }

type classifyRequest struct {
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
	Data  string `json:"data"` // base64 little-endian float32, CHW
}

type classifyResponse struct {
	Classification
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify posts the tensor to the model server.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tensor: preprocessed image.
//
// Returns:
//   - *Classification: decoded model output, not yet validated.
//   - error: non-nil if the request fails or the server reports an error.
func (r *Remote) Classify(ctx context.Context, tensor *preprocess.Tensor) (*Classification, error) {
	req := classifyRequest{
		Shape: tensor.Shape(),
		DType: "float32",
		Data:  EncodeTensor(tensor.Data),
	}

	var resp classifyResponse
	httpResp, err := r.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call classifier: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return nil, fmt.Errorf("classifier returned HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return nil, fmt.Errorf("classifier returned HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("classifier error: %s", resp.Error.Message)
	}

	out := resp.Classification
	return &out, nil
}

// EncodeTensor packs values as little-endian float32 and base64-encodes them.
func EncodeTensor(data []float32) string {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeTensor reverses EncodeTensor.
func DecodeTensor(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("tensor payload length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}
