package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arkade-os/cjd/internal/core/domain"
	"github.com/arkade-os/cjd/internal/core/ports"
	"github.com/btcsuite/btcd/wire"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCacheSize   = 1000
	defaultTargetBlock = 6
	defaultMaxRetries  = 3
	baseDelay          = 200 * time.Millisecond
	// minRelayFeeRate is the default bitcoind min relay fee in sat/kvB.
	minRelayFeeRate = 1000
)

var errNotFound = fmt.Errorf("not found")

type Option func(*service)

func WithCacheSize(size int) Option {
	return func(s *service) {
		s.cacheSize = size
	}
}

// WithTargetBlock sets the confirmation target used to pick the fee estimate.
func WithTargetBlock(target int) Option {
	return func(s *service) {
		s.targetBlock = target
	}
}

func WithMaxRetries(retries uint64) Option {
	return func(s *service) {
		s.maxRetries = retries
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *service) {
		s.httpClient = client
	}
}

// Client bundles every blockchain collaborator the coordinator consumes.
type Client interface {
	ports.MempoolObserver
	ports.TxBroadcaster
	ports.TxProvider
	ports.FeeRateProvider
}

type service struct {
	baseUrl     string
	httpClient  *http.Client
	cacheSize   int
	targetBlock int
	maxRetries  uint64
	txCache     *lru.Cache[string, *wire.MsgTx]
}

func NewService(baseUrl string, opts ...Option) (Client, error) {
	if baseUrl == "" {
		return nil, fmt.Errorf("missing esplora url")
	}

	svc := &service{
		baseUrl:     strings.TrimRight(baseUrl, "/"),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		cacheSize:   defaultCacheSize,
		targetBlock: defaultTargetBlock,
		maxRetries:  defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(svc)
	}

	cache, err := lru.New[string, *wire.MsgTx](svc.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tx cache: %s", err)
	}
	svc.txCache = cache

	return svc, nil
}

func (s *service) IsTxInMempool(ctx context.Context, txid string) (bool, error) {
	body, err := s.get(ctx, fmt.Sprintf("/tx/%s/status", txid))
	if err != nil {
		if err == errNotFound {
			return false, nil
		}
		return false, err
	}

	var status struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return false, fmt.Errorf("failed to parse tx status: %s", err)
	}
	// A confirmed tx has propagated as well.
	return true, nil
}

func (s *service) GetOutpointSpender(
	ctx context.Context, outpoint domain.Outpoint,
) (string, bool, error) {
	body, err := s.get(ctx, fmt.Sprintf("/tx/%s/outspend/%d", outpoint.Txid, outpoint.VOut))
	if err != nil {
		return "", false, err
	}

	var outspend struct {
		Spent bool   `json:"spent"`
		Txid  string `json:"txid"`
	}
	if err := json.Unmarshal(body, &outspend); err != nil {
		return "", false, fmt.Errorf("failed to parse outspend: %s", err)
	}
	if !outspend.Spent {
		return "", false, nil
	}
	return outspend.Txid, true, nil
}

func (s *service) GetTransaction(ctx context.Context, txid string) (*wire.MsgTx, error) {
	if tx, ok := s.txCache.Get(txid); ok {
		return tx.Copy(), nil
	}

	body, err := s.get(ctx, fmt.Sprintf("/tx/%s/hex", txid))
	if err != nil {
		if err == errNotFound {
			return nil, fmt.Errorf("tx %s not found", txid)
		}
		return nil, err
	}

	buf, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tx hex: %s", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("failed to deserialize tx: %s", err)
	}
	if got := tx.TxHash().String(); got != txid {
		return nil, fmt.Errorf("txid mismatch: expected %s, got %s", txid, got)
	}

	s.txCache.Add(txid, tx)
	return tx.Copy(), nil
}

func (s *service) BroadcastTransaction(ctx context.Context, txhex string) (string, error) {
	// Broadcasts are not retried: a rejection is final and a timeout may hide
	// an accepted tx that the mempool check will find.
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.baseUrl+"/tx", strings.NewReader(txhex),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %s", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast tx: %s", err)
	}
	// nolint
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %s", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to broadcast tx: %s", strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func (s *service) GetFeeRate(ctx context.Context) (int64, error) {
	body, err := s.get(ctx, "/fee-estimates")
	if err != nil {
		return 0, err
	}

	estimates := make(map[string]float64)
	if err := json.Unmarshal(body, &estimates); err != nil {
		return 0, fmt.Errorf("failed to parse fee estimates: %s", err)
	}

	satPerVbyte, ok := pickEstimate(estimates, s.targetBlock)
	if !ok {
		log.Debugf("no fee estimates available, falling back to min relay fee")
		return minRelayFeeRate, nil
	}

	rate := int64(math.Ceil(satPerVbyte * 1000))
	if rate < minRelayFeeRate {
		rate = minRelayFeeRate
	}
	return rate, nil
}

// pickEstimate returns the estimate for the highest target that is still
// lower than or equal to the given one, or the lowest target available.
func pickEstimate(estimates map[string]float64, target int) (float64, bool) {
	bestTarget, lowestTarget := -1, math.MaxInt
	var best, lowest float64
	for key, value := range estimates {
		blocks, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if blocks <= target && blocks > bestTarget {
			bestTarget, best = blocks, value
		}
		if blocks < lowestTarget {
			lowestTarget, lowest = blocks, value
		}
	}
	if bestTarget >= 0 {
		return best, true
	}
	if lowestTarget != math.MaxInt {
		return lowest, true
	}
	return 0, false
}

func (s *service) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	backoff := retry.WithMaxRetries(s.maxRetries, exponential(baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseUrl+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %s", err)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to GET %s: %s", path, err))
		}
		// nolint
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return errNotFound
		}

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to read response: %s", err))
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf(
				"failed to GET %s: status %d: %s", path, resp.StatusCode,
				strings.TrimSpace(string(buf)),
			)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return retry.RetryableError(err)
			}
			return err
		}

		body = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func exponential(base time.Duration) retry.Backoff {
	next := base
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay := next
		next *= 2
		return delay, false
	})
}
