package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/proofchain/errors"
	"github.com/teranos/proofchain/internal/outbound"
	"github.com/teranos/proofchain/version"
)

// AlgodClient reads boxes and transactions from an Algorand-compatible node.
// Box writes need the submitter's signature, so they return ErrReadOnly.
type AlgodClient struct {
	baseURL string
	token   string
	appID   uint64
	http    *http.Client
	logger  *zap.SugaredLogger
}

// NewAlgodClient creates a client for the node at baseURL and application appID.
func NewAlgodClient(baseURL, token string, appID uint64, httpClient *http.Client, logger *zap.SugaredLogger) *AlgodClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AlgodClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		appID:   appID,
		http:    httpClient,
		logger:  logger.Named("ledger.algod"),
	}
}

type boxResponse struct {
	Name  string `json:"name"`
	Round uint64 `json:"round"`
	Value string `json:"value"`
}

type statusResponse struct {
	LastRound uint64 `json:"last-round"`
}

type pendingResponse struct {
	ConfirmedRound uint64 `json:"confirmed-round"`
	PoolError      string `json:"pool-error"`
}

func (a *AlgodClient) BoxExists(ctx context.Context, name []byte) (bool, error) {
	_, ok, err := a.BoxGet(ctx, name)
	return ok, err
}

func (a *AlgodClient) BoxGet(ctx context.Context, name []byte) ([]byte, bool, error) {
	path := fmt.Sprintf("/v2/applications/%d/box?name=%s", a.appID,
		url.QueryEscape("b64:"+base64.StdEncoding.EncodeToString(name)))

	var box boxResponse
	found, err := a.getJSON(ctx, path, &box)
	if err != nil || !found {
		return nil, false, err
	}
	value, err := base64.StdEncoding.DecodeString(box.Value)
	if err != nil {
		return nil, false, outbound.Permanent(errors.Wrapf(err, "decode box %s value", short(name)))
	}
	return value, true, nil
}

func (a *AlgodClient) BoxCreateIfAbsent(ctx context.Context, name []byte, size int) (bool, error) {
	return false, errors.Wrapf(ErrReadOnly, "create box %s", short(name))
}

func (a *AlgodClient) BoxPut(ctx context.Context, name, value []byte) error {
	return errors.Wrapf(ErrReadOnly, "put box %s", short(name))
}

func (a *AlgodClient) CurrentRound(ctx context.Context) (uint64, error) {
	var status statusResponse
	found, err := a.getJSON(ctx, "/v2/status", &status)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, outbound.Permanent(errors.New("node status endpoint not found"))
	}
	return status.LastRound, nil
}

// TxConfirmed reports whether the node has a confirmed round for txid.
// Transactions that have left the pending pool report 404 and count as unconfirmed here.
func (a *AlgodClient) TxConfirmed(ctx context.Context, txid string) (bool, error) {
	var pending pendingResponse
	found, err := a.getJSON(ctx, "/v2/transactions/pending/"+url.PathEscape(txid), &pending)
	if err != nil || !found {
		return false, err
	}
	return pending.ConfirmedRound > 0 && pending.PoolError == "", nil
}

// getJSON returns found=false on 404.
func (a *AlgodClient) getJSON(ctx context.Context, path string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return false, outbound.Permanent(errors.Wrap(err, "build request"))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if a.token != "" {
		req.Header.Set("X-Algo-API-Token", a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := outbound.CheckResponse(resp); err != nil {
		return false, err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Wrapf(err, "decode %s", path)
	}
	a.logger.Debugw("Node request", "path", path, "status", resp.StatusCode)
	return true, nil
}
