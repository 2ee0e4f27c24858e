// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package ioc wraps golobby/container with lazy singleton registration and typed resolution errors.
package ioc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golobby/container/v3"
)

// ErrResolveInstance is returned when no resolver is registered for a type, as opposed to a resolver that failed.
var ErrResolveInstance = errors.New("failed resolving instance from container")

// Container resolves the services of a command invocation.
type Container struct {
	inner container.Container
}

func NewContainer() *Container {
	return &Container{inner: container.New()}
}

// RegisterSingleton registers a resolver that runs at most once, on first resolution.
// Panics if the resolver is not a function returning the service type.
func (c *Container) RegisterSingleton(resolveFn any) {
	container.MustSingletonLazy(c.inner, resolveFn)
}

// RegisterInstance registers an already constructed instance of F.
func RegisterInstance[F any](c *Container, instance F) {
	container.MustSingletonLazy(c.inner, func() F {
		return instance
	})
}

// Resolve fills instance, a pointer to a registered service type.
func (c *Container) Resolve(instance any) error {
	return inspectResolveError(c.inner.Resolve(instance))
}

// Invoke calls fn with its arguments resolved from the container. fn may return an error.
func (c *Container) Invoke(fn any) error {
	return inspectResolveError(c.inner.Call(fn))
}

// golobby has no typed errors, but prefixes its own messages with "container:".
func inspectResolveError(err error) error {
	if err == nil {
		return nil
	}

	if strings.HasPrefix(err.Error(), "container:") {
		return fmt.Errorf("%w: %s", ErrResolveInstance, err.Error())
	}

	return err
}
