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
	"fmt"
	"strings"
	"unicode"

	"github.com/sethvargo/go-password/password"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	lldapv1 "github.com/huizinga/lldap-operator/api/v1"
)

const (
	secretUsernameKey = "username"
	secretPasswordKey = "password"

	passwordLength = 32
	passwordDigits = 8
)

// generatePassword produces a fresh credential. The generator guarantees the
// digit count; draws missing a letter case are re-rolled so every character
// class is represented.
func generatePassword() (string, error) {
	for {
		candidate, err := password.Generate(passwordLength, passwordDigits, 0, false, true)
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}

		if strings.ContainsFunc(candidate, unicode.IsUpper) &&
			strings.ContainsFunc(candidate, unicode.IsLower) {
			return candidate, nil
		}
	}
}

// newCredentialsSecret assembles the unpersisted credentials secret for a
// service user. The secret is owned by the ServiceUser so cascade-deletion
// reclaims it.
func newCredentialsSecret(user *lldapv1.ServiceUser, scheme *runtime.Scheme) (*corev1.Secret, error) {
	pass, err := generatePassword()
	if err != nil {
		return nil, err
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      user.SecretName(),
			Namespace: user.Namespace,
		},
		StringData: map[string]string{
			secretUsernameKey: user.Login(),
			secretPasswordKey: pass,
		},
	}

	if err := controllerutil.SetControllerReference(user, secret, scheme); err != nil {
		return nil, fmt.Errorf("setting owner reference: %w", err)
	}

	return secret, nil
}

// secretPassword reads the password out of a committed secret. Data carries
// the apiserver-decoded bytes; StringData covers a secret this reconcile just
// assembled.
func secretPassword(secret *corev1.Secret) (string, error) {
	if raw, ok := secret.Data[secretPasswordKey]; ok {
		return string(raw), nil
	}

	if pass, ok := secret.StringData[secretPasswordKey]; ok {
		return pass, nil
	}

	return "", fmt.Errorf("secret %q has no %q key", secret.Name, secretPasswordKey)
}
