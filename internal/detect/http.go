package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openlot/parkwatch/internal/capture"
	"github.com/openlot/parkwatch/internal/fault"
	"github.com/openlot/parkwatch/internal/httputil"
)

// HTTPDetector calls an external inference service. The frame is posted
// as a JPEG body and the service answers with a JSON detection list.
type HTTPDetector struct {
	client httputil.HTTPClient
	url    string
}

// NewHTTPDetector creates a detector client for the given endpoint URL.
func NewHTTPDetector(client httputil.HTTPClient, url string) *HTTPDetector {
	return &HTTPDetector{client: client, url: url}
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

func (d *HTTPDetector) Detect(ctx context.Context, frame *capture.Frame) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindCameraUnavailable, err, "detector unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fault.Errorf(fault.KindInternal, "detector returned %d: %s", resp.StatusCode, body)
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	return parsed.Detections, nil
}
