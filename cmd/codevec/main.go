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

// Package main implements the codevec CLI for indexing a local repository
// into a vector collection and searching it.
//
// Usage:
//
//	codevec init                   Create codevec.yaml and the state directory
//	codevec index [path]           Index the repository
//	codevec ingest <chunks.jsonl>  Index a previously written chunk file
//	codevec search <query...>      Semantic search over the collection
//	codevec status [--json]        Show collection and last run status
//	codevec reset --yes            Drop the collection
package main

import (
	"flag"
	"fmt"
	"os"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "", "Path to codevec.yaml (default: ./codevec.yaml)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `codevec - code to vector indexing

codevec parses a repository with tree-sitter, builds a code graph, splits
symbols into chunks, embeds them and writes them to a vector collection.

Usage:
  codevec [--config path] <command> [options]

Commands:
  init      Create codevec.yaml and the .codevec state directory
  index     Index a repository (default: current directory)
  ingest    Rebuild the collection from a chunks.jsonl file
  search    Search the collection with a natural language query
  status    Show collection size and the last run summary
  reset     Drop the collection (destructive!)

Global Options:
  --config   Path to codevec.yaml
  --version  Show version and exit

Examples:
  codevec init
  codevec index --embed-workers 8
  codevec search "where is the retry backoff computed" --top-k 5
  codevec status --json

Environment Variables:
  CODEVEC_EMBED_ENDPOINT  Embedding endpoint override
  CODEVEC_EMBED_MODEL     Embedding model override
  OPENAI_API_KEY          API key for the openai provider
  QDRANT_URL              Qdrant URL override
  QDRANT_API_KEY          Qdrant API key

For detailed command help: codevec <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("codevec version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	var run func(args []string, configPath string) error
	switch command {
	case "init":
		run = runInit
	case "index":
		run = runIndex
	case "ingest":
		run = runIngest
	case "search":
		run = runSearch
	case "status":
		run = runStatus
	case "reset":
		run = runReset
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}

	if err := run(cmdArgs, *configPath); err != nil {
		os.Exit(reportError(os.Stderr, err, wantsJSON(cmdArgs), hasFlag(cmdArgs, "--no-color")))
	}
}
