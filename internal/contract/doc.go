// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package contract provides limits and validation shared by the codevec
// write paths.
//
// # Request Size Limits
//
// Upserts to a remote vector database are split so that no single request
// body exceeds a soft limit:
//
//	limit := contract.SoftLimitBytes()
//
//	result := contract.ValidateRequestBody(body)
//	if !result.OK {
//	    log.Printf("Validation failed: %s", result.Message)
//	}
//
// The limit can be adjusted via the CODEVEC_SOFT_LIMIT_BYTES environment
// variable:
//
//	export CODEVEC_SOFT_LIMIT_BYTES=8388608  # 8 MiB
//
// If the variable is unset or invalid, DefaultSoftLimitBytes is used.
//
// # Collection Names
//
// ValidateCollectionName accepts ASCII letters, digits, '_', '-' and '.'.
package contract
