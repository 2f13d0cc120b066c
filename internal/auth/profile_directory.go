package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDirectoryTimeout = 5 * time.Second
	maxErrorBodyBytes       = 512
)

var (
	errMissingDirectoryURL = errors.New("user api url configuration required")
	errMissingAPIKey       = errors.New("user api key configuration required")
	// ErrInvalidDirectoryConfig reports an unusable ProfileDirectory configuration.
	ErrInvalidDirectoryConfig = errors.New("auth: invalid profile directory config")
)

// ProfileDirectoryConfig configures the identity provider's user API client.
type ProfileDirectoryConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ProfileDirectory fetches user profiles from the identity provider's user API.
type ProfileDirectory struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

type directoryUser struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	ImageURL        string `json:"image_url"`
	PrivateMetadata struct {
		IsAdmin bool `json:"isAdmin"`
	} `json:"private_metadata"`
}

// NewProfileDirectory constructs a ProfileDirectory.
func NewProfileDirectory(cfg ProfileDirectoryConfig) (*ProfileDirectory, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirectoryConfig, errMissingDirectoryURL)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirectoryConfig, errMissingAPIKey)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultDirectoryTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileDirectory{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// LookupProfile fetches GET {base}/users/{id}.
func (d *ProfileDirectory) LookupProfile(ctx context.Context, userID string) (Profile, error) {
	endpoint := d.baseURL + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Accept", "application/json")

	response, err := d.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("user api request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		d.logger.Warn("user api returned error",
			zap.String("user_id", userID),
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", body))
		return Profile{}, fmt.Errorf("user api returned status %d", response.StatusCode)
	}

	var user directoryUser
	if err := json.NewDecoder(response.Body).Decode(&user); err != nil {
		return Profile{}, fmt.Errorf("user api returned malformed profile: %w", err)
	}
	if strings.TrimSpace(user.ID) == "" {
		return Profile{}, errors.New("user api returned profile without id")
	}

	username := strings.TrimSpace(user.Username)
	if username == "" {
		username = strings.TrimSpace(user.FirstName)
	}
	return Profile{
		ID:        user.ID,
		Username:  username,
		AvatarURL: user.ImageURL,
		IsAdmin:   user.PrivateMetadata.IsAdmin,
	}, nil
}
