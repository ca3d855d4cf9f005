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

// Package bootstrap handles codevec project initialization and wiring.
//
// InitProject writes a default codevec.yaml and creates the .codevec state
// directory. It is idempotent: an existing config is never overwritten.
//
//	info, err := bootstrap.InitProject(".", nil, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Config written to: %s\n", info.ConfigPath)
//
// OpenProject turns a loaded configuration into live components: the
// embedding coordinator, the vector store and the index manager. From a
// Project the CLI builds pipelines and retrieval engines.
//
//	proj, err := bootstrap.OpenProject(".", cfg, bootstrap.Options{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer proj.Close()
//
//	p, err := proj.Pipeline(nil)
//	summary, err := p.Run(ctx, proj.RunContext(time.Now()), ".")
//
// # Storage Backends
//
//   - qdrant: a Qdrant server reached over its REST API (default)
//   - bolt: a local bbolt file under .codevec/, searched by brute force
package bootstrap
