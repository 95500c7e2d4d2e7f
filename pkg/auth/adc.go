// Package auth wraps Google Application Default Credentials for the
// monitoring API. Credentials are read from the environment or the gcloud
// ADC file; nothing is persisted by this tool.
package auth

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// monitoringReadScope is the only scope the collector needs.
const monitoringReadScope = "https://www.googleapis.com/auth/monitoring.read"

// TokenSource returns an OAuth2 token source backed by Application Default
// Credentials.
func TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	creds, err := google.FindDefaultCredentials(ctx, monitoringReadScope)
	if err != nil {
		return nil, fmt.Errorf("application default credentials not available: %w", err)
	}
	return creds.TokenSource, nil
}

// EnsureLogin runs the interactive gcloud ADC login flow when no default
// credentials are configured yet. Triggered by --no-safe.
func EnsureLogin(ctx context.Context) error {
	if _, err := google.FindDefaultCredentials(ctx, monitoringReadScope); err == nil {
		return nil
	}

	gcloud, err := exec.LookPath("gcloud")
	if err != nil {
		return fmt.Errorf("gcloud command not installed, see https://cloud.google.com/sdk/docs/install-sdk")
	}

	cmd := exec.CommandContext(ctx, gcloud, "auth", "application-default", "login")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gcloud application-default login failed: %w", err)
	}
	return nil
}
