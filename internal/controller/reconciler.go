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

// Package controllers reconciles ServiceUser and Group resources into users
// and groups inside an LLDAP directory.
package controllers

import (
	"context"
	"fmt"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/huizinga/lldap-operator/internal/lldap"
)

// ControllerName identifies this controller to the cluster: it is the
// finalizer string, the field manager on secret writes, and the event
// reporter name.
const ControllerName = "lldap.huizinga.dev"

const (
	// resyncInterval is the steady-state requeue period after a successful
	// reconcile.
	resyncInterval = time.Hour

	// errorRetryDelay is the base delay before a failed reconcile is
	// retried; the work queue backs off exponentially from there.
	errorRetryDelay = 5 * time.Second
)

// Directory is the subset of the lldap client the reconcilers drive.
type Directory interface {
	EnsureManagedAttribute(ctx context.Context) error
	GetUser(ctx context.Context, id string) (lldap.User, error)
	CreateUser(ctx context.Context, id string) (lldap.User, error)
	DeleteUser(ctx context.Context, id string) error
	GetGroups(ctx context.Context) ([]lldap.Group, error)
	CreateGroup(ctx context.Context, displayName string) (lldap.Group, error)
	DeleteGroup(ctx context.Context, id int) error
	UpdateUserGroups(ctx context.Context, user lldap.User, desired []string) error
	UpdatePassword(ctx context.Context, id, password string) error
}

// ConnectFunc authenticates a fresh directory session. Reconciles connect
// once per run; there is no session cache.
type ConnectFunc func(ctx context.Context) (Directory, error)

// missingObjectKeyError reports an apiserver-populated field that was absent
// on the reconciled object.
type missingObjectKeyError struct {
	field string
}

func (e *missingObjectKeyError) Error() string {
	return "missing object key: " + e.field
}

// reconcileWithFinalizer wraps a kind-specific apply/cleanup pair in the
// finalizer protocol: the finalizer is installed before any external state is
// created, and only removed once cleanup has succeeded. Both the install and
// the removal are apiserver writes that trigger the next event, so those
// branches return without requeueing.
func reconcileWithFinalizer[T client.Object](
	ctx context.Context,
	c client.Client,
	obj T,
	apply func(context.Context, T) (ctrl.Result, error),
	cleanup func(context.Context, T) error,
) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(obj, ControllerName) {
		// An object already terminating under someone else's finalizer was
		// never claimed here; the apiserver also rejects adding finalizers
		// to a deleting object.
		if obj.GetDeletionTimestamp() != nil {
			return ctrl.Result{}, nil
		}

		controllerutil.AddFinalizer(obj, ControllerName)
		if err := c.Update(ctx, obj); err != nil {
			return ctrl.Result{}, fmt.Errorf("adding finalizer: %w", err)
		}

		return ctrl.Result{}, nil
	}

	if obj.GetDeletionTimestamp() != nil {
		logger.V(1).Info("Cleanup")

		if err := cleanup(ctx, obj); err != nil {
			return ctrl.Result{}, fmt.Errorf("cleanup: %w", err)
		}

		controllerutil.RemoveFinalizer(obj, ControllerName)
		if err := c.Update(ctx, obj); err != nil {
			return ctrl.Result{}, fmt.Errorf("removing finalizer: %w", err)
		}

		return ctrl.Result{}, nil
	}

	logger.V(1).Info("Apply")

	return apply(ctx, obj)
}
