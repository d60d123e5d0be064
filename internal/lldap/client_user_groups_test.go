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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("UpdateUserGroups", func() {
	var (
		directory *fakeDirectory
		client    *Client

		readonly Group
		grafana  Group
		ops      Group
	)

	BeforeEach(func() {
		directory = newFakeDirectory()
		readonly = directory.addGroup("lldap_strict_readonly")
		grafana = directory.addGroup("grafana-admins")
		ops = directory.addGroup("ops")

		var err error
		client, err = Config{
			Username: "admin",
			Password: "hunter2",
			URL:      directory.URL(),
		}.Connect(context.Background())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		directory.Close()
	})

	It("Should add missing memberships", func() {
		user := User{ID: "gitea.apps"}

		err := client.UpdateUserGroups(context.Background(), user, []string{"grafana-admins", "lldap_strict_readonly"})
		Expect(err).NotTo(HaveOccurred())

		Expect(directory.added).To(ConsistOf(
			graphqlCall{UserID: "gitea.apps", GroupID: grafana.ID},
			graphqlCall{UserID: "gitea.apps", GroupID: readonly.ID},
		))
		Expect(directory.removed).To(BeEmpty())
	})

	It("Should remove memberships that are no longer desired", func() {
		user := User{ID: "gitea.apps", Groups: []Group{ops, readonly}}

		err := client.UpdateUserGroups(context.Background(), user, []string{"lldap_strict_readonly"})
		Expect(err).NotTo(HaveOccurred())

		Expect(directory.removed).To(ConsistOf(
			graphqlCall{UserID: "gitea.apps", GroupID: ops.ID},
		))
		Expect(directory.added).To(BeEmpty())
	})

	It("Should do nothing when memberships are already converged", func() {
		user := User{ID: "gitea.apps", Groups: []Group{readonly}}

		err := client.UpdateUserGroups(context.Background(), user, []string{"lldap_strict_readonly"})
		Expect(err).NotTo(HaveOccurred())

		Expect(directory.added).To(BeEmpty())
		Expect(directory.removed).To(BeEmpty())
	})

	It("Should drop desired names without a directory counterpart", func() {
		user := User{ID: "gitea.apps"}

		err := client.UpdateUserGroups(context.Background(), user, []string{"does-not-exist", "lldap_strict_readonly"})
		Expect(err).NotTo(HaveOccurred())

		Expect(directory.added).To(ConsistOf(
			graphqlCall{UserID: "gitea.apps", GroupID: readonly.ID},
		))
	})

	It("Should not add a desired name twice", func() {
		user := User{ID: "gitea.apps"}

		err := client.UpdateUserGroups(context.Background(), user, []string{"ops", "ops"})
		Expect(err).NotTo(HaveOccurred())

		Expect(directory.added).To(ConsistOf(
			graphqlCall{UserID: "gitea.apps", GroupID: ops.ID},
		))
	})
})
