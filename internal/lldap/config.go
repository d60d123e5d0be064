/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lldap is a client for the LLDAP directory service. It speaks the
// directory's GraphQL API for queries and mutations and the OPAQUE
// registration protocol for password changes.
package lldap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// requestTimeout bounds every HTTP call against the directory. Exceeding it
// is a retryable transport error.
const requestTimeout = time.Second

// Config holds the connection settings for the directory. All fields are
// required; missing values abort startup.
type Config struct {
	Username string `envconfig:"LLDAP_USERNAME" required:"true"`
	Password string `envconfig:"LLDAP_PASSWORD" required:"true"`
	URL      string `envconfig:"LLDAP_URL" required:"true"`
}

// ConfigFromEnv reads the directory configuration from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("reading lldap configuration: %w", err)
	}

	return cfg, nil
}

type simpleLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type simpleLoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Connect performs a simple login against the directory and returns a client
// whose requests carry the resulting bearer token. The session has no refresh
// protocol; callers connect once per reconcile.
func (c Config) Connect(ctx context.Context) (*Client, error) {
	login := &http.Client{Timeout: requestTimeout}

	var response simpleLoginResponse
	err := postJSON(ctx, login, c.URL+"/auth/simple/login", simpleLoginRequest{
		Username: c.Username,
		Password: c.Password,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("authenticating with the directory: %w", err)
	}

	authenticated := &http.Client{
		Timeout:   requestTimeout,
		Transport: &bearerTransport{token: response.Token},
	}

	return newClient(c.URL, authenticated), nil
}

// bearerTransport injects the session token into every request. The token is
// never logged.
type bearerTransport struct {
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)

	return http.DefaultTransport.RoundTrip(clone)
}
