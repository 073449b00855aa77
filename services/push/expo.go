package pushsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

// expoGateway delivers push batches through the Expo push API. The
// per-message tickets in the response are consumed for logging only.
type expoGateway struct {
	endpoint string
	client   *http.Client
	logger   core.Logger
}

var _ core.PushGateway = (*expoGateway)(nil)

func NewExpoGateway(conf *core.Config, logger core.Logger) *expoGateway {
	return &expoGateway{
		endpoint: conf.Push.Endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

func (g expoGateway) SendBatch(ctx context.Context, batch []core.PushMessage) ([]byte, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling push batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "building push request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "sending push batch")
	}
	defer func() { _ = res.Body.Close() }()

	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading push response")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return body, errors.Errorf("push gateway status %d: %s", res.StatusCode, body)
	}
	return body, nil
}
