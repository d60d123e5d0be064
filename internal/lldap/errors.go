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
	"errors"
	"fmt"

	graphql "github.com/hasura/go-graphql-client"
)

// firstGraphQLMessage extracts the first entry of the GraphQL errors array,
// if err carries one.
func firstGraphQLMessage(err error) (string, bool) {
	var gqlErrs graphql.Errors
	if errors.As(err, &gqlErrs) && len(gqlErrs) > 0 {
		return gqlErrs[0].Message, true
	}

	return "", false
}

// IsEntityNotFound reports whether err is the directory's answer to looking
// up a user that does not exist.
func IsEntityNotFound(err error, id string) bool {
	message, ok := firstGraphQLMessage(err)

	return ok && message == fmt.Sprintf("Entity not found: `%s`", id)
}

// IsNoSuchUser reports whether err is the directory's answer to deleting a
// user that does not exist.
func IsNoSuchUser(err error, id string) bool {
	message, ok := firstGraphQLMessage(err)

	return ok && message == fmt.Sprintf("Entity not found: `No such user: '%s'`", id)
}
