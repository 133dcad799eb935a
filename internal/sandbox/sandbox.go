// Package sandbox runs generated server scripts out-of-process and harvests
// the structured result they print. Script failures are reported through
// RunResult, never as Go errors; Run returns an error only for caller misuse.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/quizsmith/quizsmith-backend/internal/observability"
	"github.com/quizsmith/quizsmith-backend/internal/platform/ctxutil"
	"github.com/quizsmith/quizsmith-backend/internal/platform/logger"
)

const (
	LanguageJavaScript = "javascript"
	LanguagePython     = "python"

	// ErrorTimeout is the RunResult.Error value for a wall-clock kill.
	ErrorTimeout = "timeout"

	testingModeEnv = "QUIZ_TESTING_MODE"
)

// QuizResponse is the terminal JSON object a server script prints on its last
// stdout line. Numeric values keep their native JSON form.
type QuizResponse struct {
	Params         map[string]any `json:"params"`
	CorrectAnswers map[string]any `json:"correct_answers"`
	NDigits        *int           `json:"nDigits,omitempty"`
	Sigfigs        *int           `json:"sigfigs,omitempty"`
	Logs           []string       `json:"logs,omitempty"`
	TestResults    map[string]any `json:"test_results,omitempty"`
	Intermediate   map[string]any `json:"intermediate,omitempty"`
}

// RunResult reports one sandbox invocation.
type RunResult struct {
	Success      bool
	QuizResponse *QuizResponse
	Logs         []string
	Error        string
}

type Options struct {
	Timeout     time.Duration
	TestingMode bool
}

// Runner executes a script by declared language. Dispatch never sniffs file
// extensions.
type Runner interface {
	Run(ctx context.Context, scriptPath, language string, opts Options) (RunResult, error)
}

type Config struct {
	NodePath       string
	PythonPath     string
	WorkRoot       string
	DefaultTimeout time.Duration
}

type runner struct {
	log *logger.Logger
	cfg Config
}

func New(log *logger.Logger, cfg Config) Runner {
	if cfg.NodePath == "" {
		cfg.NodePath = "node"
	}
	if cfg.PythonPath == "" {
		cfg.PythonPath = "python3"
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = filepath.Join(os.TempDir(), "quizsmith-sandbox")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &runner{log: log.With("service", "Sandbox"), cfg: cfg}
}

func (r *runner) interpreter(language string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case LanguageJavaScript:
		return r.cfg.NodePath, nil
	case LanguagePython:
		return r.cfg.PythonPath, nil
	default:
		return "", fmt.Errorf("unsupported script language %q", language)
	}
}

func (r *runner) Run(ctx context.Context, scriptPath, language string, opts Options) (RunResult, error) {
	interp, err := r.interpreter(language)
	if err != nil {
		return RunResult{}, err
	}

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return RunResult{
			Success: false,
			Error:   fmt.Sprintf("script unreadable: %v", err),
		}, nil
	}

	if err := os.MkdirAll(r.cfg.WorkRoot, 0o755); err != nil {
		return RunResult{}, fmt.Errorf("create sandbox work root: %w", err)
	}
	workdir, err := os.MkdirTemp(r.cfg.WorkRoot, "run-*")
	if err != nil {
		return RunResult{}, fmt.Errorf("create sandbox workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	localScript := filepath.Join(workdir, "script"+scriptExt(language))
	if err := os.WriteFile(localScript, script, 0o644); err != nil {
		return RunResult{}, fmt.Errorf("stage script: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctxutil.Default(ctx), timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, interp, localScript)
	cmd.Dir = workdir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", testingModeEnv, boolToInt(opts.TestingMode)))

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := r.harvest(stdout.Bytes(), stderr.Bytes(), runCtx, runErr)
	outcome := "ok"
	if !result.Success {
		outcome = "failure"
		if result.Error == ErrorTimeout {
			outcome = ErrorTimeout
		}
	}
	observability.ObserveSandboxRun(language, outcome)
	r.log.Debug("sandbox run finished",
		"language", language,
		"success", result.Success,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// harvest turns captured process output into a RunResult. The last stdout
// line must be one JSON object; everything before it is logs.
func (r *runner) harvest(stdout, stderr []byte, runCtx context.Context, runErr error) RunResult {
	lines := splitStdoutLines(stdout)
	var logs []string
	if len(lines) > 1 {
		logs = lines[:len(lines)-1]
	}

	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return RunResult{Success: false, Logs: lines, Error: ErrorTimeout}
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = runErr.Error()
		}
		return RunResult{Success: false, Logs: lines, Error: msg}
	}

	if len(lines) == 0 {
		return RunResult{Success: false, Error: "script produced no stdout"}
	}
	terminal := lines[len(lines)-1]
	if !strings.HasPrefix(strings.TrimSpace(terminal), "{") {
		return RunResult{
			Success: false,
			Logs:    lines,
			Error:   "terminal stdout line is not a JSON object",
		}
	}

	var qr QuizResponse
	if err := json.Unmarshal([]byte(terminal), &qr); err != nil {
		return RunResult{
			Success: false,
			Logs:    lines,
			Error:   fmt.Sprintf("terminal stdout line is not a JSON object: %v", err),
		}
	}

	result := RunResult{Success: true, QuizResponse: &qr, Logs: logs}
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		// stderr never flips a run back to success; on a zero exit it is
		// surfaced as a diagnostic alongside the parsed response.
		result.Error = msg
	}
	return result
}

func scriptExt(language string) string {
	if strings.EqualFold(strings.TrimSpace(language), LanguagePython) {
		return ".py"
	}
	return ".js"
}

// splitStdoutLines keeps interior blank lines (they are part of the log
// stream) and trims only trailing blank fragments, so the terminal JSON is
// always the last element.
func splitStdoutLines(b []byte) []string {
	out := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
