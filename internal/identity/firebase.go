package identity

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// NewFirebaseApp initializes the Firebase Admin SDK. Empty credentials fall
// back to application default credentials.
func NewFirebaseApp(ctx context.Context, projectID, credentialsJSON string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("identity.NewFirebaseApp: %w", err)
	}
	return app, nil
}

// tokenVerifier is the part of *auth.Client the verifier uses.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier accepts Firebase Auth ID tokens.
type FirebaseVerifier struct {
	client tokenVerifier
}

// NewFirebaseVerifier returns a verifier backed by the app's Auth client.
func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity.NewFirebaseVerifier: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify checks the ID token signature and expiry and returns its subject.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrUnauthenticated
	}
	t, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	u := User{ID: t.UID}
	if email, ok := t.Claims["email"].(string); ok {
		u.Email = email
	}
	return u, nil
}
