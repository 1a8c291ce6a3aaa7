// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the store and the front ends.
//
//   - WriteFileAtomic: temp file + fsync + rename, so a transcript is never half written
//   - TruncateWidth, PadRight: display-width aware text fitting for CJK columns
package util
