// Package drive stores receipts in a Google Drive folder, authenticated
// either as a service account or with an OAuth user token.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"

	"lexledger/internal/core"
	"lexledger/internal/receipts"
)

const scheme = "drive"

// Config selects the folder and the credentials. Inline JSON wins over a
// file path. OAuth client credentials, when present, take precedence over
// the service account and require a token.
type Config struct {
	FolderID        string
	CredentialsJSON string
	CredentialsFile string

	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenJSON  string
	OAuthTokenFile  string

	Timeout time.Duration
}

func (c Config) usesOAuth() bool {
	return strings.TrimSpace(c.OAuthClientJSON) != "" || strings.TrimSpace(c.OAuthClientFile) != ""
}

type Store struct {
	svc      *gdrive.Service
	folderID string
	timeout  time.Duration
}

var _ core.ReceiptStore = (*Store)(nil)

// New creates a Drive-backed store from cfg's credentials.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.usesOAuth() {
		client, err := oauthClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewWithOptions(ctx, cfg, goption.WithHTTPClient(client))
	}
	creds, err := readSecret(cfg.CredentialsJSON, cfg.CredentialsFile, "service account")
	if err != nil {
		return nil, fmt.Errorf("%w (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)", err)
	}
	return NewWithOptions(ctx, cfg,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gdrive.DriveFileScope))
}

// NewWithOptions builds the store from explicit client options.
func NewWithOptions(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Store, error) {
	if strings.TrimSpace(cfg.FolderID) == "" {
		return nil, errors.New("missing Drive folder id")
	}
	svc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	slog.InfoContext(ctx, "Google Drive receipt store ready", "component", "receipts", "folder_id", cfg.FolderID)
	return &Store{svc: svc, folderID: cfg.FolderID, timeout: timeout}, nil
}

// oauthClient returns an HTTP client that refreshes the stored user token.
// Tokens are obtained once with cmd/oauth-init.
func oauthClient(ctx context.Context, cfg Config) (*http.Client, error) {
	clientJSON, err := readSecret(cfg.OAuthClientJSON, cfg.OAuthClientFile, "OAuth client")
	if err != nil {
		return nil, err
	}
	oc, err := google.ConfigFromJSON(clientJSON, gdrive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	tokenJSON, err := readSecret(cfg.OAuthTokenJSON, cfg.OAuthTokenFile, "OAuth token")
	if err != nil {
		return nil, fmt.Errorf("%w (run oauth-init first)", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}
	slog.InfoContext(ctx, "Using OAuth user credentials", "component", "receipts")
	return oc.Client(ctx, &tok), nil
}

func readSecret(inline, file, what string) ([]byte, error) {
	switch {
	case strings.TrimSpace(inline) != "":
		return []byte(inline), nil
	case strings.TrimSpace(file) != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s file: %w", what, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("missing %s credentials", what)
}

func (s *Store) StoreReceipt(ctx context.Context, r core.Receipt) (string, error) {
	if err := receipts.CheckSize(r.Data); err != nil {
		return "", &core.IOError{Op: "store", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name := strings.TrimSpace(r.Filename)
	if name == "" {
		name = "receipt" + receipts.Extension(r.Filename)
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(r.Data)
	}

	f, err := s.svc.Files.Create(&gdrive.File{
		Name:     name,
		Parents:  []string{s.folderID},
		MimeType: contentType,
	}).
		Media(bytes.NewReader(r.Data), googleapi.ContentType(contentType)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", &core.IOError{Op: "store", Err: fmt.Errorf("drive upload: %w", err)}
	}
	if f.Id == "" {
		return "", &core.IOError{Op: "store", Err: errors.New("drive upload returned no file id")}
	}
	return scheme + ":" + f.Id, nil
}

// DeleteReceipt removes the Drive file behind ref. A file that is already
// gone is not an error.
func (s *Store) DeleteReceipt(ctx context.Context, ref string) error {
	id, err := receipts.SplitRef(ref, scheme)
	if err != nil {
		return &core.IOError{Op: "delete", Ref: ref, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.svc.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return &core.IOError{Op: "delete", Ref: ref, Err: fmt.Errorf("drive delete: %w", err)}
	}
	return nil
}
