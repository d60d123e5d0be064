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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// RoleGroupPasswordManager is the built-in directory group for service
	// users that may manage other users' passwords.
	RoleGroupPasswordManager = "lldap_password_manager"

	// RoleGroupStrictReadonly is the built-in directory group for service
	// users with read-only access.
	RoleGroupStrictReadonly = "lldap_strict_readonly"
)

// ServiceUserSpec defines the desired state of ServiceUser
type ServiceUserSpec struct {
	// PasswordManager grants the service user the lldap_password_manager
	// role instead of lldap_strict_readonly.
	// +kubebuilder:default:=false
	PasswordManager bool `json:"passwordManager,omitempty"`

	// AdditionalGroups is a list of directory group display names the
	// service user should be a member of. Names without a matching
	// directory group are ignored.
	AdditionalGroups []string `json:"additionalGroups,omitempty"`
}

// ServiceUserStatus defines the observed state of ServiceUser
type ServiceUserStatus struct {
	// SecretCreated is the creation timestamp of the credentials secret.
	SecretCreated *metav1.Time `json:"secretCreated,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status
//+kubebuilder:resource:shortName=lsu
//+kubebuilder:printcolumn:name="Manager",type="boolean",description="Can the service user manage passwords",JSONPath=".spec.passwordManager"
//+kubebuilder:printcolumn:name="Password",type="date",description="Secret creation timestamp",JSONPath=".status.secretCreated"
//+kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// ServiceUser is the Schema for the serviceusers API. Each ServiceUser is
// backed by a directory user and a namespaced credentials secret.
type ServiceUser struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ServiceUserSpec   `json:"spec,omitempty"`
	Status ServiceUserStatus `json:"status,omitempty"`
}

//+kubebuilder:object:root=true

// ServiceUserList contains a list of ServiceUser
type ServiceUserList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ServiceUser `json:"items"`
}

// Login returns the directory login derived from the object identity,
// "<name>.<namespace>".
func (u *ServiceUser) Login() string {
	return u.Name + "." + u.Namespace
}

// SecretName returns the name of the credentials secret for this user.
func (u *ServiceUser) SecretName() string {
	return u.Name + "-lldap-credentials"
}

// DesiredGroups returns the directory groups the user should be a member of:
// the additional groups from the spec plus the role group.
func (u *ServiceUser) DesiredGroups() []string {
	role := RoleGroupStrictReadonly
	if u.Spec.PasswordManager {
		role = RoleGroupPasswordManager
	}

	groups := make([]string, 0, len(u.Spec.AdditionalGroups)+1)
	groups = append(groups, u.Spec.AdditionalGroups...)
	return append(groups, role)
}

func init() {
	SchemeBuilder.Register(&ServiceUser{}, &ServiceUserList{})
}
