package venue

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	actionPath  = "/v1/action"
	accountPath = "/v1/account/"
)

// RESTConfig holds the connection settings of a RESTVenue.
type RESTConfig struct {
	BaseURL    string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Timeout    time.Duration
}

// RESTVenue submits encoded actions to a venue gateway over HTTPS and
// reads account values from the same gateway.
type RESTVenue struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

// NewRESTVenue creates a new gateway client.
func NewRESTVenue(cfg RESTConfig) *RESTVenue {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &RESTVenue{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: NewSigner(cfg.AccessKey, cfg.SecretKey, cfg.Passphrase),
		logger: slog.Default().With("module", "rest_venue"),
	}
}

type actionRequest struct {
	Action string `json:"action"`
}

type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// SendAction posts the hex-encoded action bytes.
func (c *RESTVenue) SendAction(ctx context.Context, action []byte) error {
	resp, err := c.doRequest(ctx, http.MethodPost, actionPath, actionRequest{Action: hex.EncodeToString(action)})
	if err != nil {
		return fmt.Errorf("send action failed: %w", err)
	}

	if resp.Code != "00000" {
		return fmt.Errorf("venue rejected action: code=%s msg=%s", resp.Code, resp.Msg)
	}

	c.logger.Debug("Action accepted", slog.Int("bytes", len(action)))
	return nil
}

// GetAccountValue reads the margin account value of user.
func (c *RESTVenue) GetAccountValue(ctx context.Context, user common.Address) (int64, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, accountPath+user.Hex(), nil)
	if err != nil {
		return 0, fmt.Errorf("account value failed: %w", err)
	}

	var data struct {
		AccountValue int64 `json:"accountValue"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return 0, fmt.Errorf("failed to parse account value: %w", err)
	}
	return data.AccountValue, nil
}

func (c *RESTVenue) doRequest(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, v := range c.signer.GenerateHeaders(method, path, string(payload)) {
		req.Header.Set(k, v)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway error: status=%d body=%s", res.StatusCode, string(raw))
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}
