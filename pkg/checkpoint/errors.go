// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import "errors"

// ErrCheckpointNotFound is returned when no checkpoint exists for a task.
var ErrCheckpointNotFound = errors.New("checkpoint: not found")

// ErrStorageUnavailable wraps any failure to durably write a checkpoint
// entry, pointer, or manifest. A caller seeing this error must not treat
// the checkpoint as durable; for a background task the durability
// guarantee is downgraded until the next successful write.
var ErrStorageUnavailable = errors.New("checkpoint: storage unavailable")
