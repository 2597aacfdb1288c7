package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/config"
)

// FirebaseVerifier verifies ID tokens through the Firebase Admin SDK.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// NewFirebaseVerifier initialises the Admin SDK for the configured project.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase auth client: %w", err)
	}

	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &FirebaseVerifier{client: client, timeout: timeout}, nil
}

// VerifyIDToken checks the token signature, expiry and revocation state.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
}

// SetNomineeClaim binds a nominee to the Firebase user so later tokens carry the nominee id.
func (v *FirebaseVerifier) SetNomineeClaim(ctx context.Context, uid, nomineeID string) error {
	if v == nil || v.client == nil {
		return errors.New("auth: firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	user, err := v.client.GetUser(ctx, uid)
	if err != nil {
		return fmt.Errorf("auth: load user %s: %w", uid, err)
	}
	claims := make(map[string]interface{}, len(user.CustomClaims)+2)
	for key, value := range user.CustomClaims {
		claims[key] = value
	}
	claims[nomineeClaim] = nomineeID
	if _, ok := claims[roleClaim]; !ok {
		claims[roleClaim] = "nominee"
	}
	if err := v.client.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("auth: set claims for %s: %w", uid, err)
	}
	return nil
}
