package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
)

// Service generates a synthetic churn CSV, uploads it through the API,
// and optionally runs a few sample questions against the new dataset.
type Service struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	generator *Generator
}

type uploadResponse struct {
	Message string `json:"message"`
	Dataset struct {
		ID        string `json:"id"`
		TableName string `json:"table_name"`
		RowCount  int64  `json:"row_count"`
	} `json:"dataset"`
}

type queryRequest struct {
	Question  string `json:"question"`
	DatasetID string `json:"dataset_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type queryResponse struct {
	Explanation string `json:"explanation"`
	RowCount    int    `json:"row_count"`
	ChartType   string `json:"chart_type"`
	SessionID   string `json:"session_id"`
	Error       string `json:"error"`
}

var sampleQuestions = []string{
	"How many customers churned?",
	"What is the average monthly charge per contract type?",
	"Show the top 5 customers by total charges.",
}

func NewService(cfg Config, logger *slog.Logger, client *http.Client) (*Service, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if strings.TrimSpace(cfg.Filename) == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if cfg.Rows <= 0 {
		return nil, fmt.Errorf("rows must be > 0")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Service{
		cfg:       cfg,
		log:       logger,
		http:      client,
		generator: NewGenerator(cfg.Seed),
	}, nil
}

// Run performs one seed: generate, upload, and when configured, ask the
// sample questions in a single conversation.
func (s *Service) Run(ctx context.Context) error {
	csvBody := s.generator.CSV(s.cfg.Rows)

	uploaded, err := s.uploadDataset(ctx, csvBody)
	if err != nil {
		return err
	}
	s.log.Info(
		"seeded demo dataset",
		slog.String("dataset_id", uploaded.Dataset.ID),
		slog.String("table", uploaded.Dataset.TableName),
		slog.Int64("rows", uploaded.Dataset.RowCount),
	)

	if !s.cfg.AskSamples {
		return nil
	}
	return s.askSampleQuestions(ctx, uploaded.Dataset.ID)
}

func (s *Service) uploadDataset(ctx context.Context, csvBody []byte) (uploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", s.cfg.Filename)
	if err != nil {
		return uploadResponse{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(csvBody); err != nil {
		return uploadResponse{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return uploadResponse{}, fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+"/v1/datasets", &buf)
	if err != nil {
		return uploadResponse{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return uploadResponse{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return uploadResponse{}, err
	}
	if resp.StatusCode != http.StatusCreated {
		return uploadResponse{}, fmt.Errorf("upload request status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded uploadResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return uploadResponse{}, fmt.Errorf("decode upload response: %w", err)
	}
	return decoded, nil
}

// askSampleQuestions is best effort: a failed question is logged and the
// rest still run, so a flaky model does not fail the seed.
func (s *Service) askSampleQuestions(ctx context.Context, datasetID string) error {
	sessionID := ""
	for _, question := range sampleQuestions {
		answer, status, err := s.askQuestion(ctx, queryRequest{
			Question:  question,
			DatasetID: datasetID,
			SessionID: sessionID,
		})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			s.log.Warn(
				"sample question failed",
				slog.String("question", question),
				slog.Int("status", status),
				slog.String("error", answer.Error),
			)
			continue
		}
		sessionID = answer.SessionID
		s.log.Info(
			"sample question answered",
			slog.String("question", question),
			slog.Int("row_count", answer.RowCount),
			slog.String("chart_type", answer.ChartType),
			slog.String("explanation", answer.Explanation),
		)
	}
	return nil
}

func (s *Service) askQuestion(ctx context.Context, request queryRequest) (queryResponse, int, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return queryResponse{}, 0, fmt.Errorf("marshal query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+"/v1/query", bytes.NewReader(raw))
	if err != nil {
		return queryResponse{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return queryResponse{}, 0, fmt.Errorf("query request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return queryResponse{}, resp.StatusCode, err
	}

	var decoded queryResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return queryResponse{}, resp.StatusCode, fmt.Errorf("decode query response: %w", err)
		}
	}
	return decoded, resp.StatusCode, nil
}
