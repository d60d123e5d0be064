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
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/workqueue"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	lldapv1 "github.com/huizinga/lldap-operator/api/v1"
)

// GroupReconciler reconciles a Group object into a directory group whose
// display name is the object name.
type GroupReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
	Connect  ConnectFunc
}

//+kubebuilder:rbac:groups=lldap.huizinga.dev,resources=groups,verbs=get;list;watch;patch;update
//+kubebuilder:rbac:groups=lldap.huizinga.dev,resources=groups/finalizers,verbs=update
//+kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile drives a Group towards its declared state.
func (r *GroupReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	group := &lldapv1.Group{}
	if err := r.Get(ctx, req.NamespacedName, group); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}

		return ctrl.Result{}, err
	}

	return reconcileWithFinalizer(ctx, r.Client, group, r.apply, r.cleanup)
}

// apply creates the directory group unless one with a matching display name
// already exists.
func (r *GroupReconciler) apply(ctx context.Context, group *lldapv1.Group) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if group.Name == "" {
		return ctrl.Result{}, &missingObjectKeyError{field: ".metadata.name"}
	}

	directory, err := r.Connect(ctx)
	if err != nil {
		return ctrl.Result{}, err
	}

	groups, err := directory.GetGroups(ctx)
	if err != nil {
		return ctrl.Result{}, err
	}

	exists := false
	for _, g := range groups {
		if g.DisplayName == group.Name {
			exists = true
			break
		}
	}

	if !exists {
		logger.Info("Creating directory group", "group", group.Name)

		if _, err := directory.CreateGroup(ctx, group.Name); err != nil {
			return ctrl.Result{}, err
		}
		r.Recorder.Eventf(group, corev1.EventTypeNormal, ReasonGroupCreated,
			"Created group '%s'", group.Name)
	}

	return ctrl.Result{RequeueAfter: resyncInterval}, nil
}

// cleanup deletes the directory group with a matching display name, if any.
func (r *GroupReconciler) cleanup(ctx context.Context, group *lldapv1.Group) error {
	logger := log.FromContext(ctx)

	if group.Name == "" {
		return &missingObjectKeyError{field: ".metadata.name"}
	}

	directory, err := r.Connect(ctx)
	if err != nil {
		return err
	}

	groups, err := directory.GetGroups(ctx)
	if err != nil {
		return err
	}

	for _, g := range groups {
		if g.DisplayName != group.Name {
			continue
		}

		logger.Info("Deleting directory group", "group", group.Name)

		if err := directory.DeleteGroup(ctx, g.ID); err != nil {
			return err
		}
		r.Recorder.Eventf(group, corev1.EventTypeNormal, ReasonGroupDeleted,
			"Deleted group '%s'", group.Name)

		return nil
	}

	logger.V(1).Info("Directory group already absent", "group", group.Name)

	return nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *GroupReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&lldapv1.Group{}).
		WithOptions(controller.Options{
			RateLimiter: workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](
				errorRetryDelay, 5*time.Minute),
		}).
		Complete(r)
}
