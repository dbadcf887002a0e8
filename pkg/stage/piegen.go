package stage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/zip"
)

// PieGenerator runs the SNOS program for a block and returns the execution trace (Cairo PIE).
type PieGenerator interface {
	Generate(ctx context.Context, block uint64, payload json.RawMessage) (*Pie, error)
}

// Pie is a Cairo PIE as a set of named files.
type Pie struct {
	Files map[string][]byte
}

// Zip packs the PIE files as the pie.zip archive the prover expects. Files are written in name
// order so the archive is deterministic.
func (p *Pie) Zip() ([]byte, error) {
	if p == nil || len(p.Files) == 0 {
		return nil, errors.New("empty pie")
	}
	names := make([]string, 0, len(p.Files))
	for name := range p.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to pie archive: %w", name, err)
		}
		if _, err := w.Write(p.Files[name]); err != nil {
			return nil, fmt.Errorf("failed to write %s to pie archive: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close pie archive: %w", err)
	}
	return buf.Bytes(), nil
}

type pieRequest struct {
	BlockNumber uint64          `json:"block_number"`
	Block       json.RawMessage `json:"block,omitempty"`
}

type pieResponse struct {
	// Files maps a PIE file name to its base64 content.
	Files map[string]string `json:"files"`
}

// HTTPPieGenerator calls a PIE generator service over HTTP.
type HTTPPieGenerator struct {
	client *resty.Client
}

func NewHTTPPieGenerator(baseURL string, timeout time.Duration) (*HTTPPieGenerator, error) {
	if baseURL == "" {
		return nil, errors.New("invalid pie generator url: must not be empty")
	}
	return &HTTPPieGenerator{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
	}, nil
}

func (g *HTTPPieGenerator) Generate(ctx context.Context, block uint64, payload json.RawMessage) (*Pie, error) {
	var out pieResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(pieRequest{BlockNumber: block, Block: payload}).
		SetResult(&out).
		Post("/pie")
	if err != nil {
		return nil, fmt.Errorf("pie generator request for block %d: %w", block, err)
	}
	if resp.IsError() {
		if resp.StatusCode() < 500 {
			return nil, fmt.Errorf("%w: pie generator rejected block %d: %s", ErrInvalidInput, block, resp.Status())
		}
		return nil, fmt.Errorf("pie generator for block %d: %s", block, resp.Status())
	}

	pie := &Pie{Files: make(map[string][]byte, len(out.Files))}
	for name, content := range out.Files {
		b, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("%w: pie file %s is not base64: %v", ErrInvalidInput, name, err)
		}
		pie.Files[name] = b
	}
	return pie, nil
}
