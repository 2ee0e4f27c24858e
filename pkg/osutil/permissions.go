// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package osutil holds the file modes used for credential material. Token caches, profiles and configuration
// are readable by their owner only.
package osutil

import "os"

const (
	PermissionDirectoryOwnerOnly os.FileMode = 0700
	PermissionFileOwnerOnly      os.FileMode = 0600

	// PermissionMaskDirectoryExecute is the owner execute bit, required to traverse a directory.
	PermissionMaskDirectoryExecute os.FileMode = 0100
)
