package subscan

import (
	"encoding/json"
	"fmt"

	"github.com/emperorhan/wallet-history/internal/pipeline/retry"
	"github.com/emperorhan/wallet-history/internal/source"
)

type transfersRequest struct {
	Address string `json:"address"`
	Row     int    `json:"row"`
	Page    int    `json:"page"`
}

type extrinsicsRequest struct {
	Address string `json:"address"`
	Row     int    `json:"row"`
	Page    int    `json:"page"`
	Module  string `json:"module,omitempty"`
	Order   string `json:"order,omitempty"`
}

type envelope struct {
	Code        int             `json:"code"`
	Message     string          `json:"message"`
	GeneratedAt int64           `json:"generated_at"`
	Data        json.RawMessage `json:"data"`
}

type transfersData struct {
	Count     int                  `json:"count"`
	Transfers []source.RawTransfer `json:"transfers"`
}

type extrinsicsData struct {
	Count      int                   `json:"count"`
	Extrinsics []source.RawExtrinsic `json:"extrinsics"`
}

// HTTPError is a non-200 response from the API.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

func (e *HTTPError) HTTPStatus() int {
	return e.Status
}

// APIError is a 200 response whose envelope carries a non-zero code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("subscan api error %d: %s", e.Code, e.Message)
}

// Retryable reports whether the envelope describes a temporary condition
// such as rate limiting.
func (e *APIError) Retryable() bool {
	return retry.TransientMessage(e.Message)
}
