package recognizers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/recognizer"
	"go.uber.org/zap"
)

// RemoteNERRecognizer calls an external entity-recognition backend over
// HTTP to find spans the local regex recognizers cannot.
//
// The recognizer is conditional — only wired up if CLOAK_NER_ENDPOINT is
// set. It never contributes secret-class spans: credential recognition must
// stay local so a backend outage can never weaken scrubbing.
type RemoteNERRecognizer struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewRemoteNERRecognizer creates an HTTP-backed recognizer for the given
// endpoint (e.g. "http://ner.internal:8500/v1/entities").
func NewRemoteNERRecognizer(endpoint string, logger *zap.Logger) *RemoteNERRecognizer {
	return &RemoteNERRecognizer{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (r *RemoteNERRecognizer) Name() string { return "remote_ner" }

func (r *RemoteNERRecognizer) Type() entity.Type { return entity.TypeUnspecified }

type nerRequest struct {
	Text string `json:"text"`
}

type nerEntity struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

type nerResponse struct {
	Entities []nerEntity `json:"entities"`
}

func (r *RemoteNERRecognizer) Recognize(ctx context.Context, text string) ([]recognizer.Span, error) {
	body, err := json.Marshal(nerRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("remote ner: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote ner: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote ner: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote ner: unexpected status %d", resp.StatusCode)
	}

	var parsed nerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("remote ner: %w", err)
	}

	var spans []recognizer.Span
	for _, ent := range parsed.Entities {
		typ := entity.TypeFromToken(ent.Label)
		if typ == entity.TypeUnspecified || typ == entity.TypeSecret {
			// Unknown labels are skipped; secret spans must come from the
			// local rule set only.
			continue
		}
		spans = append(spans, recognizer.Span{
			Start:      ent.Start,
			End:        ent.End,
			Type:       typ,
			Confidence: ent.Confidence,
		})
	}
	return spans, nil
}
