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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	graphql "github.com/hasura/go-graphql-client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// The managed attribute tags every user this operator creates; user listings
// filter on it so foreign users stay invisible.
const (
	managedAttributeName  = "managed"
	managedAttributeValue = "1"
)

// User is a directory user together with its group memberships.
type User struct {
	ID     string
	Groups []Group
}

// Group is a directory group. The ID is assigned by the directory.
type Group struct {
	ID          int
	DisplayName string
}

// Client is an authenticated session against the directory.
type Client struct {
	url     string
	http    *http.Client
	gql     *graphql.Client
	newFlow func() (registrationFlow, error)
}

func newClient(url string, httpClient *http.Client) *Client {
	return &Client{
		url:     url,
		http:    httpClient,
		gql:     graphql.NewClient(url+"/api/graphql", httpClient),
		newFlow: newOpaqueFlow,
	}
}

type groupFragment struct {
	ID          int    `graphql:"id"`
	DisplayName string `graphql:"displayName"`
}

func (g groupFragment) group() Group {
	return Group{ID: g.ID, DisplayName: g.DisplayName}
}

type userFragment struct {
	ID     string          `graphql:"id"`
	Groups []groupFragment `graphql:"groups"`
}

func (u userFragment) user() User {
	user := User{ID: u.ID}
	for _, g := range u.Groups {
		user.Groups = append(user.Groups, g.group())
	}

	return user
}

// GetUser fetches the user with the given id. Lookups of a missing user fail
// with an error matched by IsEntityNotFound.
func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var query struct {
		User userFragment `graphql:"user(userId: $userId)"`
	}

	err := c.gql.Query(ctx, &query, map[string]any{"userId": id})
	if err != nil {
		return User{}, fmt.Errorf("getting user %q: %w", id, err)
	}

	return query.User.user(), nil
}

// EnsureManagedAttribute installs the managed attribute into the user schema
// unless a previous run already did. The attribute is a hidden, read-only
// integer.
func (c *Client) EnsureManagedAttribute(ctx context.Context) error {
	var query struct {
		Schema struct {
			UserSchema struct {
				Attributes []struct {
					Name string `graphql:"name"`
				} `graphql:"attributes"`
			} `graphql:"userSchema"`
		} `graphql:"schema"`
	}

	if err := c.gql.Query(ctx, &query, nil); err != nil {
		return fmt.Errorf("reading user schema: %w", err)
	}

	for _, attribute := range query.Schema.UserSchema.Attributes {
		if attribute.Name == managedAttributeName {
			return nil
		}
	}

	var mutation struct {
		AddUserAttribute struct {
			OK bool `graphql:"ok"`
		} `graphql:"addUserAttribute(name: \"managed\", attributeType: INTEGER, isList: false, isVisible: false, isEditable: false)"`
	}

	if err := c.gql.Mutate(ctx, &mutation, nil); err != nil {
		return fmt.Errorf("creating managed attribute: %w", err)
	}

	return nil
}

// RequestFilter and EqualityConstraint are the directory's user listing
// filter inputs.
type RequestFilter struct {
	Eq *EqualityConstraint `json:"eq,omitempty"`
}

type EqualityConstraint struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// ListUsers returns the ids of the users carrying the managed attribute,
// which is every user this operator created.
func (c *Client) ListUsers(ctx context.Context) ([]string, error) {
	var query struct {
		Users []struct {
			ID string `graphql:"id"`
		} `graphql:"users(filters: $filters)"`
	}

	vars := map[string]any{
		"filters": RequestFilter{
			Eq: &EqualityConstraint{Field: managedAttributeName, Value: managedAttributeValue},
		},
	}
	if err := c.gql.Query(ctx, &query, vars); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	ids := make([]string, 0, len(query.Users))
	for _, user := range query.Users {
		ids = append(ids, user.ID)
	}

	return ids, nil
}

// CreateUserInput is the directory's input object for user creation.
type CreateUserInput struct {
	ID         string                `json:"id"`
	Email      string                `json:"email"`
	Attributes []AttributeValueInput `json:"attributes"`
}

// AttributeValueInput is the directory's input object for attribute values.
type AttributeValueInput struct {
	Name  string   `json:"name"`
	Value []string `json:"value"`
}

// CreateUser creates a user whose id and email are both set to id, tagged
// with the managed attribute.
func (c *Client) CreateUser(ctx context.Context, id string) (User, error) {
	var mutation struct {
		CreateUser userFragment `graphql:"createUser(user: $user)"`
	}

	vars := map[string]any{
		"user": CreateUserInput{
			ID:    id,
			Email: id,
			Attributes: []AttributeValueInput{
				{Name: managedAttributeName, Value: []string{managedAttributeValue}},
			},
		},
	}
	if err := c.gql.Mutate(ctx, &mutation, vars); err != nil {
		return User{}, fmt.Errorf("creating user %q: %w", id, err)
	}

	return mutation.CreateUser.user(), nil
}

// DeleteUser deletes the user with the given id. Deleting a missing user
// fails with an error matched by IsNoSuchUser.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	var mutation struct {
		DeleteUser struct {
			OK bool `graphql:"ok"`
		} `graphql:"deleteUser(userId: $userId)"`
	}

	err := c.gql.Mutate(ctx, &mutation, map[string]any{"userId": id})
	if err != nil {
		return fmt.Errorf("deleting user %q: %w", id, err)
	}

	return nil
}

// GetGroups returns all directory groups.
func (c *Client) GetGroups(ctx context.Context) ([]Group, error) {
	var query struct {
		Groups []groupFragment `graphql:"groups"`
	}

	if err := c.gql.Query(ctx, &query, nil); err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	groups := make([]Group, 0, len(query.Groups))
	for _, g := range query.Groups {
		groups = append(groups, g.group())
	}

	return groups, nil
}

// CreateGroup creates a group with the given display name and returns it
// with its directory-assigned id.
func (c *Client) CreateGroup(ctx context.Context, displayName string) (Group, error) {
	var mutation struct {
		CreateGroup groupFragment `graphql:"createGroup(name: $name)"`
	}

	err := c.gql.Mutate(ctx, &mutation, map[string]any{"name": displayName})
	if err != nil {
		return Group{}, fmt.Errorf("creating group %q: %w", displayName, err)
	}

	return mutation.CreateGroup.group(), nil
}

// DeleteGroup deletes the group with the given id.
func (c *Client) DeleteGroup(ctx context.Context, id int) error {
	var mutation struct {
		DeleteGroup struct {
			OK bool `graphql:"ok"`
		} `graphql:"deleteGroup(groupId: $groupId)"`
	}

	err := c.gql.Mutate(ctx, &mutation, map[string]any{"groupId": id})
	if err != nil {
		return fmt.Errorf("deleting group %d: %w", id, err)
	}

	return nil
}

// AddUserToGroup adds the user with the given id to a group.
func (c *Client) AddUserToGroup(ctx context.Context, id string, groupID int) error {
	var mutation struct {
		AddUserToGroup struct {
			OK bool `graphql:"ok"`
		} `graphql:"addUserToGroup(userId: $userId, groupId: $groupId)"`
	}

	vars := map[string]any{"userId": id, "groupId": groupID}
	if err := c.gql.Mutate(ctx, &mutation, vars); err != nil {
		return fmt.Errorf("adding user %q to group %d: %w", id, groupID, err)
	}

	return nil
}

// RemoveUserFromGroup removes the user with the given id from a group.
func (c *Client) RemoveUserFromGroup(ctx context.Context, id string, groupID int) error {
	var mutation struct {
		RemoveUserFromGroup struct {
			OK bool `graphql:"ok"`
		} `graphql:"removeUserFromGroup(userId: $userId, groupId: $groupId)"`
	}

	vars := map[string]any{"userId": id, "groupId": groupID}
	if err := c.gql.Mutate(ctx, &mutation, vars); err != nil {
		return fmt.Errorf("removing user %q from group %d: %w", id, groupID, err)
	}

	return nil
}

// UpdateUserGroups reconciles the user's group memberships with the desired
// display names. Memberships not in desired are removed, desired names the
// user lacks are added. Names without a matching directory group are
// silently dropped.
func (c *Client) UpdateUserGroups(ctx context.Context, user User, desired []string) error {
	logger := log.FromContext(ctx)

	groups, err := c.GetGroups(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]int, len(groups))
	for _, group := range groups {
		byName[group.DisplayName] = group.ID
	}

	wanted := make(map[string]struct{}, len(desired))
	for _, name := range desired {
		wanted[name] = struct{}{}
	}

	memberOf := make(map[string]struct{}, len(user.Groups))
	for _, group := range user.Groups {
		memberOf[group.DisplayName] = struct{}{}

		if _, ok := wanted[group.DisplayName]; !ok {
			if err := c.RemoveUserFromGroup(ctx, user.ID, group.ID); err != nil {
				return err
			}
		}
	}

	for _, name := range desired {
		if _, ok := memberOf[name]; ok {
			continue
		}

		id, ok := byName[name]
		if !ok {
			logger.V(1).Info("Skipping group without directory counterpart", "group", name)
			continue
		}

		if err := c.AddUserToGroup(ctx, user.ID, id); err != nil {
			return err
		}
		memberOf[name] = struct{}{}
	}

	return nil
}

// postJSON sends a JSON body and decodes a JSON response into out, if out is
// non-nil. Non-2xx responses are errors.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %q", resp.Status)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
