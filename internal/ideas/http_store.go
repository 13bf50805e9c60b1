package ideas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultHTTPTimeout = 15 * time.Second

var (
	// ErrUnauthorized is returned when the API rejects the session token.
	ErrUnauthorized   = errors.New("ideas: unauthorized")
	errMissingBaseURL = errors.New("base url is required")
	errUnsupported    = errors.New("operation not exposed by the api")
)

// TokenSource returns the current session token, empty when signed out.
type TokenSource func() string

// HTTPStoreConfig describes how to reach the ideas API.
type HTTPStoreConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      TokenSource
	Logger     *zap.Logger
}

// HTTPStore is the device-side client of the ideas API. The server derives the owner
// from the session token.
type HTTPStore struct {
	baseURL *url.URL
	client  *http.Client
	token   TokenSource
	logger  *zap.Logger
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type createIdeaRequest struct {
	Text string `json:"text"`
}

type attachImageRequest struct {
	ImageURL string `json:"imageUrl"`
}

type ideasResponse struct {
	Ideas []Idea `json:"ideas"`
}

// NewHTTPStore validates the configuration and constructs the client.
func NewHTTPStore(cfg HTTPStoreConfig) (*HTTPStore, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, newServiceError(opStoreNew, "missing_base_url", errMissingBaseURL)
	}
	parsed, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, newServiceError(opStoreNew, "invalid_base_url", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &HTTPStore{baseURL: parsed, client: client, token: token, logger: logger}, nil
}

// Insert posts the idea text; identifier, owner and creation time come back from the server.
func (s *HTTPStore) Insert(ctx context.Context, idea Idea) (Idea, error) {
	var created Idea
	if err := s.do(ctx, opInsert, http.MethodPost, "/ideas", nil, createIdeaRequest{Text: idea.Text}, &created); err != nil {
		return Idea{}, err
	}
	return created, nil
}

// QueryByOwner lists the signed-in caller's ideas. ownerID must match the session identity.
func (s *HTTPStore) QueryByOwner(ctx context.Context, ownerID string) ([]Idea, error) {
	if _, err := NewOwnerID(ownerID); err != nil {
		return nil, newServiceError(opQueryByOwner, "invalid_owner", err)
	}
	var response ideasResponse
	if err := s.do(ctx, opQueryByOwner, http.MethodGet, "/ideas", nil, nil, &response); err != nil {
		return nil, err
	}
	return nonNil(response.Ideas), nil
}

// QueryRecent lists the newest ideas across all owners.
func (s *HTTPStore) QueryRecent(ctx context.Context, limit int) ([]Idea, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(normalizeLimit(limit)))
	var response ideasResponse
	if err := s.do(ctx, opQueryRecent, http.MethodGet, "/ideas/recent", query, nil, &response); err != nil {
		return nil, err
	}
	return nonNil(response.Ideas), nil
}

// Get loads one idea.
func (s *HTTPStore) Get(ctx context.Context, ideaID string) (Idea, error) {
	id, err := NewIdeaID(ideaID)
	if err != nil {
		return Idea{}, newServiceError(opGet, "invalid_id", err)
	}
	var idea Idea
	if err := s.do(ctx, opGet, http.MethodGet, "/ideas/"+url.PathEscape(id), nil, nil, &idea); err != nil {
		return Idea{}, err
	}
	return idea, nil
}

// DeleteByID deletes one of the caller's ideas.
func (s *HTTPStore) DeleteByID(ctx context.Context, ownerID, ideaID string) error {
	id, err := NewIdeaID(ideaID)
	if err != nil {
		return newServiceError(opDeleteByID, "invalid_id", err)
	}
	return s.do(ctx, opDeleteByID, http.MethodDelete, "/ideas/"+url.PathEscape(id), nil, nil, nil)
}

// UpdateImageURL records an uploaded image on one of the caller's ideas.
func (s *HTTPStore) UpdateImageURL(ctx context.Context, ownerID, ideaID, imageURL string) error {
	id, err := NewIdeaID(ideaID)
	if err != nil {
		return newServiceError(opUpdateImageURL, "invalid_id", err)
	}
	return s.do(ctx, opUpdateImageURL, http.MethodPut, "/ideas/"+url.PathEscape(id)+"/image", nil,
		attachImageRequest{ImageURL: imageURL}, nil)
}

// ListIDs is reserved to server-side jobs holding a direct store.
func (s *HTTPStore) ListIDs(ctx context.Context) ([]string, error) {
	return nil, newServiceError(opListIDs, "unsupported", errUnsupported)
}

func (s *HTTPStore) do(ctx context.Context, operation, method, path string, query url.Values, body any, out any) error {
	endpoint := *s.baseURL
	endpoint.Path = s.baseURL.Path + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return newServiceError(operation, "encode_failed", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return newServiceError(operation, "request_build_failed", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := s.token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := s.client.Do(request)
	if err != nil {
		s.logError(operation, "request_failed", err, zap.String("path", path))
		return newServiceError(operation, "request_failed", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return s.statusError(operation, path, response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return newServiceError(operation, "decode_failed", err)
	}
	return nil
}

func (s *HTTPStore) statusError(operation, path string, response *http.Response) error {
	var payload apiError
	_ = json.NewDecoder(io.LimitReader(response.Body, 64*1024)).Decode(&payload)
	detail := fmt.Errorf("status %d: %s", response.StatusCode, payload.Error)

	switch response.StatusCode {
	case http.StatusNotFound:
		return newServiceError(operation, "not_found", ErrIdeaNotFound)
	case http.StatusConflict:
		return newServiceError(operation, "already_set", ErrImageAlreadySet)
	case http.StatusUnauthorized, http.StatusForbidden:
		return newServiceError(operation, "unauthorized", ErrUnauthorized)
	case http.StatusUnprocessableEntity:
		return newServiceError(operation, "storage_ceiling", ErrStorageFull)
	case http.StatusTooManyRequests:
		return newServiceError(operation, "quota_exceeded", ErrDailyLimit)
	case http.StatusBadRequest:
		return newServiceError(operation, "invalid_request", fmt.Errorf("%w: %v", ErrInvalidText, detail))
	default:
		s.logError(operation, "unexpected_status", detail, zap.String("path", path))
		return newServiceError(operation, "unexpected_status", detail)
	}
}

func (s *HTTPStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ideas api client error", attrs...)
}

func nonNil(list []Idea) []Idea {
	if list == nil {
		return []Idea{}
	}
	return list
}
