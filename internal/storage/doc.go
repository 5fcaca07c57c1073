/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage implements local persistence for editor nodes.
// Durable node state and exported artifacts live in an embedded SQLite database at <data>/canvasedit.sqlite.
// Node state is stored as JSON and validated against an embedded schema when loaded, so a corrupted row is
// reported instead of resuming an editor with nonsense. Artifacts are an LRU cache capped by size; they are
// derived from node state and can always be re-exported.
// Node files (node.json with timestamped backups) let the command line edit nodes without a database.
package storage
