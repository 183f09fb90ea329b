package services

import (
	"github.com/sjaiswal27/courierdrop/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// NewGoogleOauthConfig builds the Google sign-in configuration from env.
func NewGoogleOauthConfig(cfg config.GoogleConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
}
