// Package atlantic is the HTTP client of the Atlantic proving service.
package atlantic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ava-labs/rollup-settler/pkg/metrics"
	"github.com/ava-labs/rollup-settler/pkg/prover"
	"github.com/ava-labs/rollup-settler/pkg/types"
)

const (
	DefaultBaseURL      = "https://atlantic.api.herodotus.cloud/v1"
	DefaultProofBaseURL = "https://atlantic-queries.s3.nl-ams.scw.cloud"
	DefaultHTTPTimeout  = 60 * time.Second

	statusReceived   = "RECEIVED"
	statusInProgress = "IN_PROGRESS"
	statusDone       = "DONE"
	statusFailed     = "FAILED"
)

// Config configures the Atlantic client.
type Config struct {
	BaseURL      string
	ProofBaseURL string
	APIKey       string
	HTTPTimeout  time.Duration
}

type submitResponse struct {
	AtlanticQueryID string `json:"atlanticQueryId"`
}

type queryResponse struct {
	AtlanticQuery struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		ErrorReason string `json:"errorReason"`
	} `json:"atlanticQuery"`
}

// Client implements prover.Client against the Atlantic API.
type Client struct {
	api     *resty.Client
	proofs  *resty.Client
	apiKey  string
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

var _ prover.Client = (*Client)(nil)

func New(cfg Config, log *zap.SugaredLogger, m *metrics.Metrics) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("invalid api key: must not be empty")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ProofBaseURL == "" {
		cfg.ProofBaseURL = DefaultProofBaseURL
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}

	return &Client{
		api:     resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.HTTPTimeout),
		proofs:  resty.New().SetBaseURL(cfg.ProofBaseURL).SetTimeout(cfg.HTTPTimeout),
		apiKey:  cfg.APIKey,
		log:     log,
		metrics: m,
	}, nil
}

// Submit uploads the stage input and returns the created query.
func (c *Client) Submit(ctx context.Context, in prover.Input) (*types.ProofJob, error) {
	var out submitResponse
	req := c.api.R().
		SetContext(ctx).
		SetQueryParam("apiKey", c.apiKey).
		SetResult(&out)

	var path string
	switch in.Kind {
	case types.StageSnos:
		if len(in.Pie) == 0 {
			return nil, errors.New("snos submission without pie")
		}
		path = "/atlantic-query"
		req.SetFileReader("pieFile", "pie.zip", bytes.NewReader(in.Pie)).
			SetMultipartFormData(map[string]string{
				"layout":     "dynamic",
				"prover":     "starkware_sharp",
				"result":     "PROOF_GENERATION",
				"externalId": in.ExternalID,
			})
	case types.StageLayoutBridge:
		if len(in.Program) == 0 || len(in.ProgramInput) == 0 {
			return nil, errors.New("layout bridge submission without program or input")
		}
		path = "/l2/atlantic-query"
		req.SetFileReader("programFile", "program.json", bytes.NewReader(in.Program)).
			SetFileReader("inputFile", "input.json", bytes.NewReader(in.ProgramInput)).
			SetMultipartFormData(map[string]string{
				"cairoVersion": "0",
				"mockFactHash": "false",
				"prover":       "starkware_sharp",
				"externalId":   in.ExternalID,
			})
	default:
		return nil, fmt.Errorf("unknown stage %q", in.Kind)
	}

	resp, err := req.Post(path)
	if err = classify("submit", resp, err, true); err != nil {
		c.metrics.RecordProverSubmission(string(in.Kind), err)
		return nil, err
	}
	if out.AtlanticQueryID == "" {
		err = &prover.TransportError{Op: "submit", Err: errors.New("response without atlanticQueryId")}
		c.metrics.RecordProverSubmission(string(in.Kind), err)
		return nil, err
	}
	c.metrics.RecordProverSubmission(string(in.Kind), nil)

	c.log.Infow("submitted proof job",
		"stage", in.Kind,
		"block", in.Block,
		"queryId", out.AtlanticQueryID,
	)
	return &types.ProofJob{ID: out.AtlanticQueryID, SubmittedAt: time.Now(), Kind: in.Kind}, nil
}

// Poll reads the query status and, once it is DONE, downloads the proof.
func (c *Client) Poll(ctx context.Context, job *types.ProofJob) (prover.Outcome, error) {
	var out queryResponse
	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParam("apiKey", c.apiKey).
		SetPathParam("id", job.ID).
		SetResult(&out).
		Get("/atlantic-query/{id}")
	if err = classify("poll", resp, err, false); err != nil {
		return prover.Outcome{}, err
	}

	switch out.AtlanticQuery.Status {
	case statusReceived, statusInProgress:
		return prover.Outcome{Status: prover.Running}, nil
	case statusFailed:
		return prover.Outcome{Status: prover.Failed, Reason: out.AtlanticQuery.ErrorReason}, nil
	case statusDone:
		proof, err := c.proof(ctx, job.ID)
		if err != nil {
			return prover.Outcome{}, err
		}
		return prover.Outcome{Status: prover.Succeeded, Proof: proof}, nil
	default:
		return prover.Outcome{}, &prover.TransportError{
			Op:  "poll",
			Err: fmt.Errorf("unknown query status %q", out.AtlanticQuery.Status),
		}
	}
}

func (c *Client) proof(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.proofs.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/sharp_queries/query_{id}/proof.json")
	if err = classify("fetch proof", resp, err, false); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// classify maps a resty result onto the prover error taxonomy. On submit a 4xx other than 429 is
// a rejection; elsewhere every HTTP failure is retryable.
func classify(op string, resp *resty.Response, err error, submit bool) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &prover.TransportError{Op: op, Err: err}
	}
	if !resp.IsError() {
		return nil
	}
	code := resp.StatusCode()
	if submit && code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return &prover.RejectedError{Reason: fmt.Sprintf("status %d: %s", code, resp.String())}
	}
	return &prover.TransportError{Op: op, StatusCode: code, Err: errors.New(resp.Status())}
}
