package toolexec

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/worldrt/internal/skills"
	"github.com/haasonsaas/worldrt/pkg/models"
)

func TestRegisterAndExecute(t *testing.T) {
	r := New(0)
	r.Register("echo", func(ctx context.Context, argsJSON string) (string, bool, error) {
		return "echo:" + argsJSON, false, nil
	})

	call := models.ToolCall{Function: models.ToolCallFunction{Name: "echo", Arguments: `{"x":1}`}}
	content, isError, err := r.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isError {
		t.Fatal("expected isError false")
	}
	if content != `echo:{"x":1}` {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := New(0)
	call := models.ToolCall{Function: models.ToolCallFunction{Name: "missing"}}
	content, isError, err := r.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isError {
		t.Fatal("expected isError true for unknown tool")
	}
	if content == "" {
		t.Fatal("expected a descriptive message for unknown tool")
	}
}

func TestExecuteTooLongName(t *testing.T) {
	r := New(0)
	longName := make([]byte, MaxToolNameLength+1)
	for i := range longName {
		longName[i] = 'a'
	}
	call := models.ToolCall{Function: models.ToolCallFunction{Name: string(longName)}}
	_, isError, err := r.Execute(context.Background(), call)
	if err == nil {
		t.Fatal("expected an error for an oversized tool name")
	}
	if !isError {
		t.Fatal("expected isError true alongside the error")
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := New(10 * time.Millisecond)
	r.Register("slow", func(ctx context.Context, argsJSON string) (string, bool, error) {
		select {
		case <-time.After(time.Second):
			return "too slow", false, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	})

	call := models.ToolCall{Function: models.ToolCallFunction{Name: "slow"}}
	content, isError, err := r.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isError {
		t.Fatal("expected isError true on timeout")
	}
	if content == "" {
		t.Fatal("expected a timeout message")
	}
}

func TestUnregister(t *testing.T) {
	r := New(0)
	r.Register("echo", func(ctx context.Context, argsJSON string) (string, bool, error) {
		return "ok", false, nil
	})
	r.Unregister("echo")

	call := models.ToolCall{Function: models.ToolCallFunction{Name: "echo"}}
	_, isError, err := r.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isError {
		t.Fatal("expected isError true after unregister")
	}
}

func TestRegisterSkills(t *testing.T) {
	root := t.TempDir()
	skillDir := filepath.Join(root, "greeter")
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "---\nname: greeter\ndescription: says hello\n---\nHello from the greeter skill.\n"
	if err := os.WriteFile(filepath.Join(skillDir, skills.SkillFilename), []byte(content), 0o644); err != nil {
		t.Fatalf("write skill file: %v", err)
	}

	reg := skills.New([]string{root}, nil, nil, slog.Default())
	if err := reg.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	tools := New(0)
	RegisterSkills(tools, reg)

	call := models.ToolCall{Function: models.ToolCallFunction{Name: "greeter"}}
	result, isError, err := tools.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isError {
		t.Fatalf("unexpected error result: %s", result)
	}
	if result != content {
		t.Fatalf("expected skill content returned verbatim, got %q", result)
	}
}
