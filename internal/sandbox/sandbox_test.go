package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

// Tests drive the runner through the interpreter override with /bin/sh so no
// node or python toolchain is needed.
func shPath(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return path
}

func newShellRunner(t *testing.T, workRoot string) Runner {
	t.Helper()
	return New(logger.Nop(), Config{
		NodePath:       shPath(t),
		PythonPath:     shPath(t),
		WorkRoot:       workRoot,
		DefaultTimeout: 5 * time.Second,
	})
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.js")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunParsesLogsAndTerminalJSON(t *testing.T) {
	r := newShellRunner(t, t.TempDir())
	script := writeScript(t, `
echo "seeding params"
echo "computing answer"
echo "rounding"
echo '{"params":{"v0":12.5},"correct_answers":{"range":15.9},"nDigits":2}'
`)

	res, err := r.Run(context.Background(), script, LanguageJavaScript, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if len(res.Logs) != 3 || res.Logs[0] != "seeding params" {
		t.Fatalf("logs not harvested: %v", res.Logs)
	}
	if res.QuizResponse == nil || res.QuizResponse.Params["v0"] != 12.5 {
		t.Fatalf("quiz response not parsed: %+v", res.QuizResponse)
	}
	if res.QuizResponse.NDigits == nil || *res.QuizResponse.NDigits != 2 {
		t.Fatalf("ndigits lost: %+v", res.QuizResponse)
	}
}

func TestRunKeepsBlankLogLines(t *testing.T) {
	r := newShellRunner(t, t.TempDir())
	script := writeScript(t, `
echo "section one"
echo ""
echo "section two"
echo '{"params":{},"correct_answers":{"x":1}}'
`)

	res, err := r.Run(context.Background(), script, LanguageJavaScript, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if len(res.Logs) != 3 || res.Logs[1] != "" || res.Logs[2] != "section two" {
		t.Fatalf("blank log line dropped: %v", res.Logs)
	}
}

func TestRunNonJSONTerminalLineFails(t *testing.T) {
	r := newShellRunner(t, t.TempDir())
	script := writeScript(t, `echo "just some text"`)

	res, err := r.Run(context.Background(), script, LanguageJavaScript, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Fatalf("non-JSON terminal output must fail")
	}
	if res.Error == "" {
		t.Fatalf("expected diagnostic in Error")
	}
}

func TestRunStderrSurfacedOnFailure(t *testing.T) {
	r := newShellRunner(t, t.TempDir())
	script := writeScript(t, `
echo "boom: undefined variable" >&2
exit 3
`)

	res, err := r.Run(context.Background(), script, LanguagePython, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Fatalf("nonzero exit must fail")
	}
	if res.Error != "boom: undefined variable" {
		t.Fatalf("stderr not surfaced: %q", res.Error)
	}
}

func TestRunTimeoutRemovesWorkdir(t *testing.T) {
	workRoot := t.TempDir()
	r := newShellRunner(t, workRoot)
	script := writeScript(t, `sleep 10`)

	res, err := r.Run(context.Background(), script, LanguageJavaScript, Options{Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success || res.Error != ErrorTimeout {
		t.Fatalf("expected timeout failure, got %+v", res)
	}

	entries, err := os.ReadDir(workRoot)
	if err != nil {
		t.Fatalf("read work root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workdir leaked after timeout: %v", entries)
	}
}

func TestRunUnknownLanguageIsAnError(t *testing.T) {
	r := newShellRunner(t, t.TempDir())
	script := writeScript(t, `echo '{}'`)

	if _, err := r.Run(context.Background(), script, "ruby", Options{}); err == nil {
		t.Fatalf("unknown language must be rejected")
	}
}

func TestRunMissingScriptReportedInResult(t *testing.T) {
	r := newShellRunner(t, t.TempDir())

	res, err := r.Run(context.Background(), "/nonexistent/server.js", LanguageJavaScript, Options{})
	if err != nil {
		t.Fatalf("missing script must not be a Go error: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure result, got %+v", res)
	}
}

func TestRunTestingModeExported(t *testing.T) {
	r := newShellRunner(t, t.TempDir())
	script := writeScript(t, `echo "{\"params\":{},\"correct_answers\":{},\"test_results\":{\"mode\":\"$QUIZ_TESTING_MODE\"}}"`)

	res, err := r.Run(context.Background(), script, LanguageJavaScript, Options{TestingMode: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.QuizResponse.TestResults["mode"] != "1" {
		t.Fatalf("testing mode not exported: %+v", res.QuizResponse.TestResults)
	}
}
