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
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	lldapv1 "github.com/huizinga/lldap-operator/api/v1"
	"github.com/huizinga/lldap-operator/internal/lldap"
)

// ServiceUserReconciler reconciles a ServiceUser object into a credentials
// secret and a directory user with matching password and memberships.
type ServiceUserReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
	Connect  ConnectFunc
}

//+kubebuilder:rbac:groups=lldap.huizinga.dev,resources=serviceusers,verbs=get;list;watch;patch;update
//+kubebuilder:rbac:groups=lldap.huizinga.dev,resources=serviceusers/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=lldap.huizinga.dev,resources=serviceusers/finalizers,verbs=update
//+kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create;patch
//+kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile drives a ServiceUser towards its declared state.
func (r *ServiceUserReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	user := &lldapv1.ServiceUser{}
	if err := r.Get(ctx, req.NamespacedName, user); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}

		return ctrl.Result{}, err
	}

	return reconcileWithFinalizer(ctx, r.Client, user, r.apply, r.cleanup)
}

// apply converges the secret, the directory user, its memberships and its
// password, in that order. Every step is idempotent; a failure at any point
// leaves a state the next attempt completes from.
func (r *ServiceUserReconciler) apply(ctx context.Context, user *lldapv1.ServiceUser) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if user.Name == "" {
		return ctrl.Result{}, &missingObjectKeyError{field: ".metadata.name"}
	}
	if user.Namespace == "" {
		return ctrl.Result{}, &missingObjectKeyError{field: ".metadata.namespace"}
	}

	login := user.Login()

	secret, created, err := r.ensureSecret(ctx, user)
	if err != nil {
		return ctrl.Result{}, err
	}
	if created {
		// Only announced once the commit has succeeded.
		r.Recorder.Eventf(user, corev1.EventTypeNormal, ReasonSecretCreated,
			"Created secret '%s'", secret.Name)
	}

	directory, err := r.Connect(ctx)
	if err != nil {
		return ctrl.Result{}, err
	}

	// New users are tagged with the managed attribute; make sure the schema
	// carries it before creating any.
	if err := directory.EnsureManagedAttribute(ctx); err != nil {
		return ctrl.Result{}, err
	}

	directoryUser, err := directory.GetUser(ctx, login)
	switch {
	case lldap.IsEntityNotFound(err, login):
		logger.Info("Creating directory user", "login", login)

		directoryUser, err = directory.CreateUser(ctx, login)
		if err != nil {
			return ctrl.Result{}, err
		}
		r.Recorder.Eventf(user, corev1.EventTypeNormal, ReasonUserCreated,
			"Created user '%s'", login)
	case err != nil:
		return ctrl.Result{}, err
	}

	if err := directory.UpdateUserGroups(ctx, directoryUser, user.DesiredGroups()); err != nil {
		return ctrl.Result{}, err
	}

	// The secret is authoritative for the password; the directory cannot be
	// read back and is re-registered to match.
	pass, err := secretPassword(secret)
	if err != nil {
		return ctrl.Result{}, err
	}
	if err := directory.UpdatePassword(ctx, login, pass); err != nil {
		return ctrl.Result{}, err
	}

	patch := client.MergeFrom(user.DeepCopy())
	user.Status.SecretCreated = secret.CreationTimestamp.DeepCopy()
	if err := r.Status().Patch(ctx, user, patch); err != nil {
		return ctrl.Result{}, fmt.Errorf("patching status: %w", err)
	}

	return ctrl.Result{RequeueAfter: resyncInterval}, nil
}

// ensureSecret fetches the credentials secret, creating it with a fresh
// password when absent. It reports whether this reconcile created it.
func (r *ServiceUserReconciler) ensureSecret(ctx context.Context, user *lldapv1.ServiceUser) (*corev1.Secret, bool, error) {
	logger := log.FromContext(ctx)

	secret := &corev1.Secret{}
	key := types.NamespacedName{Namespace: user.Namespace, Name: user.SecretName()}

	err := r.Get(ctx, key, secret)
	if err == nil {
		return secret, false, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, false, err
	}

	logger.Info("Generating credentials secret", "secret", key.Name)

	secret, err = newCredentialsSecret(user, r.Scheme)
	if err != nil {
		return nil, false, err
	}

	if err := r.Create(ctx, secret, client.FieldOwner(ControllerName)); err != nil {
		return nil, false, fmt.Errorf("committing secret: %w", err)
	}

	return secret, true, nil
}

// cleanup removes the directory user. The credentials secret is reclaimed by
// the owner-reference cascade, not here. A user already absent from the
// directory is an anomaly worth an event, not a failure.
func (r *ServiceUserReconciler) cleanup(ctx context.Context, user *lldapv1.ServiceUser) error {
	logger := log.FromContext(ctx)

	if user.Name == "" {
		return &missingObjectKeyError{field: ".metadata.name"}
	}
	if user.Namespace == "" {
		return &missingObjectKeyError{field: ".metadata.namespace"}
	}

	login := user.Login()

	directory, err := r.Connect(ctx)
	if err != nil {
		return err
	}

	err = directory.DeleteUser(ctx, login)
	switch {
	case lldap.IsNoSuchUser(err, login):
		logger.Info("Directory user already absent", "login", login)
		r.Recorder.Eventf(user, corev1.EventTypeWarning, ReasonUserNotFound,
			"User '%s' not found", login)
	case err != nil:
		return err
	default:
		r.Recorder.Eventf(user, corev1.EventTypeNormal, ReasonUserDeleted,
			"Deleted user '%s'", login)
	}

	return nil
}

// SetupWithManager sets up the controller with the Manager. Owned secrets are
// watched so deleting one triggers regeneration.
func (r *ServiceUserReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&lldapv1.ServiceUser{}).
		Owns(&corev1.Secret{}).
		WithOptions(controller.Options{
			RateLimiter: workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](
				errorRetryDelay, 5*time.Minute),
		}).
		Complete(r)
}
