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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kpekel-labs/eventic/pkg/tool"
)

// registerBuiltinTools populates registry with the small set of
// filesystem tools the CLI itself ships, confined to workDir. The
// core tool package deliberately carries no implementations of its
// own (see pkg/tool's package comment); an embedding application like
// this CLI supplies them.
func registerBuiltinTools(registry *tool.Registry, workDir string) error {
	readSchema := tool.Schema{
		Name:        "read_file",
		Description: "Read the contents of a file relative to the working directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "File path relative to the working directory."},
			},
			"required": []string{"path"},
		},
		Capabilities: tool.Capabilities{Idempotent: true, ParallelSafe: true},
	}
	if err := registry.Register(readSchema, tool.HandlerFunc(func(ctx context.Context, call tool.Call) (tool.Result, error) {
		return readFileCall(workDir, call)
	})); err != nil {
		return err
	}

	writeSchema := tool.Schema{
		Name:        "write_file",
		Description: "Create or overwrite a file relative to the working directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path relative to the working directory."},
				"content": map[string]any{"type": "string", "description": "Content to write."},
			},
			"required": []string{"path", "content"},
		},
		Capabilities: tool.Capabilities{RequiresConfirmation: true, ParallelSafe: false},
	}
	if err := registry.Register(writeSchema, tool.HandlerFunc(func(ctx context.Context, call tool.Call) (tool.Result, error) {
		return writeFileCall(workDir, call)
	})); err != nil {
		return err
	}

	return nil
}

func confinedPath(workDir, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed, use relative paths")
	}
	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("directory traversal not allowed")
	}

	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}
	absPath := filepath.Join(absWorkDir, cleaned)
	if !strings.HasPrefix(absPath, absWorkDir) {
		return "", fmt.Errorf("path escapes working directory")
	}
	return absPath, nil
}

func readFileCall(workDir string, call tool.Call) (tool.Result, error) {
	path, _ := call.Args["path"].(string)
	fullPath, err := confinedPath(workDir, path)
	if err != nil {
		return tool.Result{CallID: call.ID, Status: tool.StatusError, Error: err.Error()}, nil
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return tool.Result{CallID: call.ID, Status: tool.StatusError, Error: err.Error()}, nil
	}
	return tool.Result{CallID: call.ID, Status: tool.StatusOK, Content: string(content)}, nil
}

func writeFileCall(workDir string, call tool.Call) (tool.Result, error) {
	path, _ := call.Args["path"].(string)
	content, _ := call.Args["content"].(string)
	fullPath, err := confinedPath(workDir, path)
	if err != nil {
		return tool.Result{CallID: call.ID, Status: tool.StatusError, Error: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return tool.Result{CallID: call.ID, Status: tool.StatusError, Error: err.Error()}, nil
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return tool.Result{CallID: call.ID, Status: tool.StatusError, Error: err.Error()}, nil
	}
	return tool.Result{CallID: call.ID, Status: tool.StatusOK, Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}
