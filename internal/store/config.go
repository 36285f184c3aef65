// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Funmax Contributors

package store

// Config controls which backend the store factory opens.
type Config struct {
	Backend string // "sqlite" (default) or "memory".
	Path    string // SQLite database file path; ignored by the memory backend.
}
