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

package controllers

import (
	"context"
	"fmt"

	graphql "github.com/hasura/go-graphql-client"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	lldapv1 "github.com/huizinga/lldap-operator/api/v1"
	"github.com/huizinga/lldap-operator/internal/lldap"
)

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	_ = lldapv1.AddToScheme(scheme)

	return scheme
}

// entityNotFound is the directory's answer to looking up a missing user.
func entityNotFound(login string) error {
	return graphql.Errors{{Message: fmt.Sprintf("Entity not found: `%s`", login)}}
}

// noSuchUser is the directory's answer to deleting a missing user.
func noSuchUser(login string) error {
	return graphql.Errors{{Message: fmt.Sprintf("Entity not found: `No such user: '%s'`", login)}}
}

// fakeDirectory is an in-memory Directory recording every mutation.
type fakeDirectory struct {
	users  map[string]lldap.User
	groups []lldap.Group

	connectErr        error
	ensureAttrErr     error
	getUserErr        error
	deleteUserErr     error
	updateGroupsErr   error
	updatePasswordErr error

	connects         int
	attributeEnsured int
	createdUsers     []string
	deletedUsers     []string
	createdGroups    []string
	deletedGroups    []int
	desiredGroups    map[string][]string
	passwords        map[string]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:         map[string]lldap.User{},
		desiredGroups: map[string][]string{},
		passwords:     map[string]string{},
	}
}

// connect is the ConnectFunc handed to reconcilers under test.
func (d *fakeDirectory) connect(_ context.Context) (Directory, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	d.connects++

	return d, nil
}

func (d *fakeDirectory) EnsureManagedAttribute(_ context.Context) error {
	if d.ensureAttrErr != nil {
		return d.ensureAttrErr
	}
	d.attributeEnsured++

	return nil
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (lldap.User, error) {
	if d.getUserErr != nil {
		return lldap.User{}, d.getUserErr
	}

	user, ok := d.users[id]
	if !ok {
		return lldap.User{}, entityNotFound(id)
	}

	return user, nil
}

func (d *fakeDirectory) CreateUser(_ context.Context, id string) (lldap.User, error) {
	user := lldap.User{ID: id}
	d.users[id] = user
	d.createdUsers = append(d.createdUsers, id)

	return user, nil
}

func (d *fakeDirectory) DeleteUser(_ context.Context, id string) error {
	if d.deleteUserErr != nil {
		return d.deleteUserErr
	}

	if _, ok := d.users[id]; !ok {
		return noSuchUser(id)
	}

	delete(d.users, id)
	d.deletedUsers = append(d.deletedUsers, id)

	return nil
}

func (d *fakeDirectory) GetGroups(_ context.Context) ([]lldap.Group, error) {
	return d.groups, nil
}

func (d *fakeDirectory) CreateGroup(_ context.Context, displayName string) (lldap.Group, error) {
	group := lldap.Group{ID: len(d.groups) + 1, DisplayName: displayName}
	d.groups = append(d.groups, group)
	d.createdGroups = append(d.createdGroups, displayName)

	return group, nil
}

func (d *fakeDirectory) DeleteGroup(_ context.Context, id int) error {
	groups := d.groups[:0]
	for _, g := range d.groups {
		if g.ID != id {
			groups = append(groups, g)
		}
	}
	d.groups = groups
	d.deletedGroups = append(d.deletedGroups, id)

	return nil
}

func (d *fakeDirectory) UpdateUserGroups(_ context.Context, user lldap.User, desired []string) error {
	if d.updateGroupsErr != nil {
		return d.updateGroupsErr
	}

	d.desiredGroups[user.ID] = desired

	return nil
}

func (d *fakeDirectory) UpdatePassword(_ context.Context, id, password string) error {
	if d.updatePasswordErr != nil {
		return d.updatePasswordErr
	}

	d.passwords[id] = password

	return nil
}

// drainEvents empties a fake recorder's channel.
func drainEvents(events chan string) []string {
	var drained []string
	for {
		select {
		case e := <-events:
			drained = append(drained, e)
		default:
			return drained
		}
	}
}
