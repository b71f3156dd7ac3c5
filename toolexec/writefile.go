package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loopwire/turnroom/schema"
)

// WriteTool writes content to a file rooted at Root, per spec.md §6's
// "write(path, content) -> ok | {err}". Grounded on the teacher's
// tools/write.go, with the path-containment check spec.md §9's Open
// Question resolves toward rejecting: a path that escapes Root is an
// error rather than silently writing outside the workspace.
type WriteTool struct {
	Root string
}

// NewWriteTool builds a WriteTool confined to root.
func NewWriteTool(root string) *WriteTool {
	return &WriteTool{Root: root}
}

func (t *WriteTool) Name() string { return "write" }

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Execute resolves call.Arguments as `{"path", "content"}`, ensures the
// parent directory exists, unescapes literal `\r\n`/`\n` sequences when
// the content has no real newlines (spec.md §6), and writes the file.
func (t *WriteTool) Execute(_ context.Context, call schema.ToolCall) schema.ToolResult {
	var a writeArgs
	if err := json.Unmarshal([]byte(call.Arguments), &a); err != nil {
		return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("invalid args: %v", err)}
	}

	resolved, err := t.resolve(a.Path)
	if err != nil {
		return schema.ToolResult{ID: call.ID, OK: false, Err: err.Error()}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("mkdir: %v", err)}
	}

	content := unescapeLiteralNewlines(a.Content)
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("write %s: %v", a.Path, err)}
	}

	return schema.ToolResult{
		ID:     call.ID,
		OK:     true,
		Stdout: fmt.Sprintf("wrote %d bytes to %s", len(content), a.Path),
	}
}

// resolve joins path against Root and rejects any result that escapes
// Root, e.g. via `../../etc/passwd`. An absolute path is joined under Root
// like a relative one. With an empty Root the path is used unchanged.
func (t *WriteTool) resolve(path string) (string, error) {
	if t.Root == "" {
		return path, nil
	}
	joined := filepath.Join(t.Root, path)
	rel, err := filepath.Rel(t.Root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("write: path %q escapes workspace root", path)
	}
	return joined, nil
}

// unescapeLiteralNewlines converts literal `\r\n`/`\n` two-character
// sequences to real newlines when the source contains no actual newline
// byte, per spec.md §6's file-writer behavior for model output that
// escaped its own newlines.
func unescapeLiteralNewlines(content string) string {
	if strings.ContainsAny(content, "\r\n") {
		return content
	}
	content = strings.ReplaceAll(content, `\r\n`, "\n")
	content = strings.ReplaceAll(content, `\n`, "\n")
	return content
}
