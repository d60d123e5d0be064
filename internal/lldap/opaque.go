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

package lldap

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/bytemare/opaque"
)

// registrationFlow is a single client-side OPAQUE registration exchange.
// Start produces the registration request message, Finish consumes the
// server's response and produces the registration upload. The plaintext
// password never leaves the flow.
type registrationFlow interface {
	Start(password []byte) ([]byte, error)
	Finish(serverResponse []byte) ([]byte, error)
}

type opaqueFlow struct {
	client *opaque.Client
}

func newOpaqueFlow() (registrationFlow, error) {
	client, err := opaque.DefaultConfiguration().Client()
	if err != nil {
		return nil, fmt.Errorf("initializing OPAQUE client: %w", err)
	}

	return &opaqueFlow{client: client}, nil
}

func (f *opaqueFlow) Start(password []byte) ([]byte, error) {
	return f.client.RegistrationInit(password).Serialize(), nil
}

func (f *opaqueFlow) Finish(serverResponse []byte) ([]byte, error) {
	response, err := f.client.Deserialize.RegistrationResponse(serverResponse)
	if err != nil {
		return nil, fmt.Errorf("decoding registration response: %w", err)
	}

	record, _ := f.client.RegistrationFinalize(response)

	return record.Serialize(), nil
}

type registrationStartRequest struct {
	Username                 string `json:"username"`
	RegistrationStartRequest string `json:"registrationStartRequest"`
}

type registrationStartResponse struct {
	ServerData           string `json:"serverData"`
	RegistrationResponse string `json:"registrationResponse"`
}

type registrationFinishRequest struct {
	ServerData         string `json:"serverData"`
	RegistrationUpload string `json:"registrationUpload"`
}

// UpdatePassword registers a new password for the user through the OPAQUE
// exchange. Only opaque envelopes travel over the wire; arbitrary password
// bytes are accepted verbatim.
func (c *Client) UpdatePassword(ctx context.Context, id, password string) error {
	flow, err := c.newFlow()
	if err != nil {
		return err
	}

	message, err := flow.Start([]byte(password))
	if err != nil {
		return fmt.Errorf("starting registration for %q: %w", id, err)
	}

	start := registrationStartRequest{
		Username:                 id,
		RegistrationStartRequest: base64.StdEncoding.EncodeToString(message),
	}
	var started registrationStartResponse
	err = postJSON(ctx, c.http, c.url+"/auth/opaque/register/start", start, &started)
	if err != nil {
		return fmt.Errorf("starting registration for %q: %w", id, err)
	}

	response, err := base64.StdEncoding.DecodeString(started.RegistrationResponse)
	if err != nil {
		return fmt.Errorf("decoding registration response for %q: %w", id, err)
	}

	upload, err := flow.Finish(response)
	if err != nil {
		return fmt.Errorf("finishing registration for %q: %w", id, err)
	}

	finish := registrationFinishRequest{
		ServerData:         started.ServerData,
		RegistrationUpload: base64.StdEncoding.EncodeToString(upload),
	}
	err = postJSON(ctx, c.http, c.url+"/auth/opaque/register/finish", finish, nil)
	if err != nil {
		return fmt.Errorf("finishing registration for %q: %w", id, err)
	}

	return nil
}
