package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"habitly/internal/config"
)

// ErrNotConfigured is returned when no credential source is available.
var ErrNotConfigured = errors.New("firebase credentials not configured")

// CredentialSource names where service-account credentials came from.
type CredentialSource string

const (
	SourceFile   CredentialSource = "file"
	SourceJSON   CredentialSource = "json"
	SourceFields CredentialSource = "fields"
)

// serviceAccount is the subset of the Google service-account key format
// the SDK needs.
type serviceAccount struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
}

// LoadCredentials resolves service-account JSON from the first available
// source: an existing file path, inline JSON, then discrete fields (which
// require project id, client email and private key). It also returns the
// project id found in the credentials.
func LoadCredentials(cfg config.FirebaseConfig) ([]byte, string, CredentialSource, error) {
	if cfg.ServiceAccountPath != "" {
		if _, err := os.Stat(cfg.ServiceAccountPath); err == nil {
			data, err := os.ReadFile(cfg.ServiceAccountPath)
			if err != nil {
				return nil, "", "", fmt.Errorf("read service account file: %w", err)
			}
			projectID, err := projectOf(data, cfg.ProjectID)
			return data, projectID, SourceFile, err
		}
	}

	if inline := strings.TrimSpace(cfg.ServiceAccountJSON.Unmask()); inline != "" {
		data := []byte(inline)
		projectID, err := projectOf(data, cfg.ProjectID)
		return data, projectID, SourceJSON, err
	}

	if cfg.ProjectID != "" && cfg.ClientEmail != "" && cfg.PrivateKey.IsSet() {
		sa := serviceAccount{
			Type:                    "service_account",
			ProjectID:               cfg.ProjectID,
			PrivateKeyID:            cfg.PrivateKeyID,
			PrivateKey:              strings.ReplaceAll(cfg.PrivateKey.Unmask(), `\n`, "\n"),
			ClientEmail:             cfg.ClientEmail,
			ClientID:                cfg.ClientID,
			AuthURI:                 "https://accounts.google.com/o/oauth2/auth",
			TokenURI:                "https://oauth2.googleapis.com/token",
			AuthProviderX509CertURL: "https://www.googleapis.com/oauth2/v1/certs",
			ClientX509CertURL:       "https://www.googleapis.com/robot/v1/metadata/x509/" + url.PathEscape(cfg.ClientEmail),
		}
		data, err := json.Marshal(sa)
		if err != nil {
			return nil, "", "", fmt.Errorf("encode service account: %w", err)
		}
		return data, cfg.ProjectID, SourceFields, nil
	}

	return nil, "", "", ErrNotConfigured
}

func projectOf(data []byte, fallback string) (string, error) {
	var sa serviceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return "", fmt.Errorf("parse service account json: %w", err)
	}
	if sa.ProjectID != "" {
		return sa.ProjectID, nil
	}
	return fallback, nil
}
