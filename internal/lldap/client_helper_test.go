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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// graphqlRequest is the wire shape of a GraphQL POST.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// fakeDirectory is an in-memory stand-in for the lldap server. It serves the
// simple-login endpoint and a scriptable GraphQL endpoint, and records every
// mutation it sees.
type fakeDirectory struct {
	mu sync.Mutex

	token  string
	users  map[string]*User
	groups []Group

	userAttributes []string        // user schema attribute names
	managed        map[string]bool // users tagged with the managed attribute

	nextGroupID int

	added           []graphqlCall // addUserToGroup calls
	removed         []graphqlCall // removeUserFromGroup calls
	logins          int
	attributesAdded int // addUserAttribute calls

	server *httptest.Server
}

type graphqlCall struct {
	UserID  string
	GroupID int
}

func newFakeDirectory() *fakeDirectory {
	d := &fakeDirectory{
		token:       "test-token",
		users:       map[string]*User{},
		managed:     map[string]bool{},
		nextGroupID: 1,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/simple/login", d.handleLogin)
	mux.HandleFunc("/api/graphql", d.handleGraphQL)
	d.server = httptest.NewServer(mux)

	return d
}

func (d *fakeDirectory) Close() {
	d.server.Close()
}

func (d *fakeDirectory) URL() string {
	return d.server.URL
}

func (d *fakeDirectory) addGroup(displayName string) Group {
	d.mu.Lock()
	defer d.mu.Unlock()

	group := Group{ID: d.nextGroupID, DisplayName: displayName}
	d.nextGroupID++
	d.groups = append(d.groups, group)

	return group
}

func (d *fakeDirectory) addUser(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := user
	d.users[user.ID] = &u
}

func (d *fakeDirectory) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req simpleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	d.logins++
	d.mu.Unlock()

	writeJSON(w, simpleLoginResponse{Token: d.token, RefreshToken: "refresh"})
}

func (d *fakeDirectory) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+d.token {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	var req graphqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case strings.Contains(req.Query, "addUserAttribute"):
		d.userAttributes = append(d.userAttributes, "managed")
		d.attributesAdded++
		writeData(w, map[string]any{"addUserAttribute": map[string]any{"ok": true}})

	case strings.Contains(req.Query, "schema"):
		attributes := []any{}
		for _, name := range d.userAttributes {
			attributes = append(attributes, map[string]any{"name": name})
		}
		writeData(w, map[string]any{"schema": map[string]any{
			"userSchema": map[string]any{"attributes": attributes},
		}})

	case strings.Contains(req.Query, "addUserToGroup"):
		d.added = append(d.added, graphqlCall{
			UserID:  req.Variables["userId"].(string),
			GroupID: int(req.Variables["groupId"].(float64)),
		})
		writeData(w, map[string]any{"addUserToGroup": map[string]any{"ok": true}})

	case strings.Contains(req.Query, "removeUserFromGroup"):
		d.removed = append(d.removed, graphqlCall{
			UserID:  req.Variables["userId"].(string),
			GroupID: int(req.Variables["groupId"].(float64)),
		})
		writeData(w, map[string]any{"removeUserFromGroup": map[string]any{"ok": true}})

	case strings.Contains(req.Query, "createUser"):
		user := req.Variables["user"].(map[string]any)
		id := user["id"].(string)
		d.users[id] = &User{ID: id}
		if attributes, ok := user["attributes"].([]any); ok {
			for _, a := range attributes {
				if a.(map[string]any)["name"] == "managed" {
					d.managed[id] = true
				}
			}
		}
		writeData(w, map[string]any{"createUser": userJSON(*d.users[id])})

	case strings.Contains(req.Query, "deleteUser"):
		id := req.Variables["userId"].(string)
		if _, ok := d.users[id]; !ok {
			writeErrors(w, "Entity not found: `No such user: '"+id+"'`")
			return
		}
		delete(d.users, id)
		writeData(w, map[string]any{"deleteUser": map[string]any{"ok": true}})

	case strings.Contains(req.Query, "createGroup"):
		group := Group{ID: d.nextGroupID, DisplayName: req.Variables["name"].(string)}
		d.nextGroupID++
		d.groups = append(d.groups, group)
		writeData(w, map[string]any{"createGroup": groupJSON(group)})

	case strings.Contains(req.Query, "deleteGroup"):
		id := int(req.Variables["groupId"].(float64))
		groups := d.groups[:0]
		for _, g := range d.groups {
			if g.ID != id {
				groups = append(groups, g)
			}
		}
		d.groups = groups
		writeData(w, map[string]any{"deleteGroup": map[string]any{"ok": true}})

	case strings.Contains(req.Query, "user("):
		id := req.Variables["userId"].(string)
		user, ok := d.users[id]
		if !ok {
			writeErrors(w, "Entity not found: `"+id+"`")
			return
		}
		writeData(w, map[string]any{"user": userJSON(*user)})

	case strings.Contains(req.Query, "users"):
		managedOnly := false
		if filters, ok := req.Variables["filters"].(map[string]any); ok {
			if eq, ok := filters["eq"].(map[string]any); ok {
				managedOnly = eq["field"] == "managed" && eq["value"] == "1"
			}
		}
		users := []any{}
		for id := range d.users {
			if managedOnly && !d.managed[id] {
				continue
			}
			users = append(users, map[string]any{"id": id})
		}
		writeData(w, map[string]any{"users": users})

	case strings.Contains(req.Query, "groups"):
		groups := []any{}
		for _, g := range d.groups {
			groups = append(groups, groupJSON(g))
		}
		writeData(w, map[string]any{"groups": groups})

	default:
		http.Error(w, "unhandled query: "+req.Query, http.StatusBadRequest)
	}
}

func userJSON(user User) map[string]any {
	groups := []any{}
	for _, g := range user.Groups {
		groups = append(groups, groupJSON(g))
	}

	return map[string]any{"id": user.ID, "groups": groups}
}

func groupJSON(group Group) map[string]any {
	return map[string]any{"id": group.ID, "displayName": group.DisplayName}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data map[string]any) {
	writeJSON(w, map[string]any{"data": data})
}

func writeErrors(w http.ResponseWriter, messages ...string) {
	errs := []any{}
	for _, m := range messages {
		errs = append(errs, map[string]any{"message": m})
	}
	writeJSON(w, map[string]any{"data": nil, "errors": errs})
}
