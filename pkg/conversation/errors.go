// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conversation

import "fmt"

// Error is a conversation-registry sentinel error with a stable
// machine-readable code, matching the task package's *Error convention so
// callers can switch on a discrete kind instead of parsing strings.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is allows errors.Is to match by code, so a wrapped *Error with a
// different Message still compares equal to one of the sentinels below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

var (
	// ErrConversationExists is returned by Create when name is already
	// registered.
	ErrConversationExists = &Error{Code: "conversation_exists", Message: "conversation already exists"}

	// ErrConversationMissing is returned by SwitchActive, Delete, Rename,
	// and WithLock when name is not registered.
	ErrConversationMissing = &Error{Code: "conversation_missing", Message: "conversation does not exist"}

	// ErrConversationBusy is returned by Delete when the conversation's
	// lock is currently held by an in-flight request.
	ErrConversationBusy = &Error{Code: "conversation_busy", Message: "conversation has a request in flight"}
)

func errExists(name string) error {
	return fmt.Errorf("conversation: %q: %w", name, ErrConversationExists)
}

func errMissing(name string) error {
	return fmt.Errorf("conversation: %q: %w", name, ErrConversationMissing)
}

func errBusy(name string) error {
	return fmt.Errorf("conversation: %q: %w", name, ErrConversationBusy)
}
