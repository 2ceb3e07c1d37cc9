package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atenea-labs/atenea/internal/domain"
	"github.com/atenea-labs/atenea/internal/metrics"
)

// Invoker runs the embedding worker as a watched subprocess.
type Invoker struct {
	bin        string
	scriptPath string
	tempDir    string
	timeout    time.Duration
	env        []string
	logger     *zap.Logger
}

// Config holds the subprocess settings.
type Config struct {
	Bin        string
	ScriptPath string
	TempDir    string
	Timeout    time.Duration
	Env        []string
	Logger     *zap.Logger
}

// NewInvoker creates a worker invoker.
func NewInvoker(cfg *Config) *Invoker {
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	return &Invoker{
		bin:        cfg.Bin,
		scriptPath: cfg.ScriptPath,
		tempDir:    tempDir,
		timeout:    timeout,
		env:        cfg.Env,
		logger:     cfg.Logger,
	}
}

// Run processes one document. The subprocess gets its input as a JSON
// descriptor file and is killed outright when the wall-clock timeout
// fires. The returned error is always a classified *Error for worker
// failures; other errors indicate invoker-side problems.
func (iv *Invoker) Run(ctx context.Context, d Descriptor) (Result, error) {
	inputPath, err := iv.writeInput(d)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := os.Remove(inputPath); err != nil {
			iv.logger.Warn("Failed to remove worker input file",
				zap.String("path", inputPath), zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()

	// Direct argv invocation, no shell. The environment is passed
	// explicitly so the worker sees only what it was configured with.
	cmd := exec.CommandContext(runCtx, iv.bin, iv.scriptPath, inputPath)
	cmd.Env = iv.env
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		metrics.WorkerRunDuration.WithLabelValues("timeout").Observe(elapsed.Seconds())
		iv.logger.Warn("Worker timed out",
			zap.String("document_id", d.ID),
			zap.Duration("timeout", iv.timeout))
		return Result{}, &Error{
			Kind:   KindTimeout,
			Detail: fmt.Sprintf("worker killed after %s", iv.timeout),
		}
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("worker run aborted: %w", ctx.Err())
		}
		metrics.WorkerRunDuration.WithLabelValues("failure").Observe(elapsed.Seconds())
		werr := classifyStderr(stderr.String())
		iv.logger.Warn("Worker exited with failure",
			zap.String("document_id", d.ID),
			zap.String("kind", string(werr.Kind)),
			zap.Error(runErr))
		return Result{}, werr
	}

	result, perr := parseEnvelope(stdout.String())
	if perr != nil {
		metrics.WorkerRunDuration.WithLabelValues("failure").Observe(elapsed.Seconds())
		return Result{}, perr
	}

	metrics.WorkerRunDuration.WithLabelValues("success").Observe(elapsed.Seconds())
	iv.logger.Info("Worker finished",
		zap.String("document_id", d.ID),
		zap.Int("fragments", len(result.Fragments)),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

func (iv *Invoker) writeInput(d Descriptor) (string, error) {
	data, err := json.Marshal([]Descriptor{d})
	if err != nil {
		return "", fmt.Errorf("marshal worker input: %w", err)
	}

	f, err := os.CreateTemp(iv.tempDir, "worker-input-*.json")
	if err != nil {
		return "", fmt.Errorf("create worker input file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write worker input file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close worker input file: %w", err)
	}
	return f.Name(), nil
}

// envelope is the worker's structured stdout payload. The shape is
// fixed; anything that does not decode into it is a classified failure.
type envelope struct {
	Success    bool              `json:"success"`
	Fragments  []fragmentPayload `json:"fragments"`
	ArchiveURL string            `json:"archive_url"`
	Error      string            `json:"error"`
}

type fragmentPayload struct {
	Text               string    `json:"text"`
	Embedding          []float32 `json:"embedding"`
	SectionTitle       string    `json:"section_title"`
	TokenCount         int       `json:"token_count"`
	CreatedWithOverlap bool      `json:"created_with_overlap"`
}

// parseEnvelope extracts the trailing JSON object from worker output.
// Workers print progress diagnostics before the payload, so the scan
// walks line starts from the end until one parses.
func parseEnvelope(output string) (Result, error) {
	trimmed := strings.TrimRight(output, " \t\r\n")

	var env envelope
	parsed := false
	for at := len(trimmed); at > 0; {
		idx := strings.LastIndexByte(trimmed[:at], '\n')
		lineStart := idx + 1
		line := trimmed[lineStart:]
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			candidate := trimmed[lineStart+strings.Index(line, "{"):]
			if json.Unmarshal([]byte(candidate), &env) == nil {
				parsed = true
				break
			}
		}
		if idx < 0 {
			break
		}
		at = idx
	}
	if !parsed {
		return Result{}, &Error{Kind: KindMalformedOutput, Detail: "no parseable result payload"}
	}

	if !env.Success {
		detail := env.Error
		if detail == "" {
			detail = "worker reported failure without detail"
		}
		return Result{}, classifyMessage(detail)
	}
	if len(env.Fragments) == 0 {
		return Result{}, &Error{Kind: KindMalformedOutput, Detail: "success payload without fragments"}
	}

	fragments := make([]domain.Fragment, len(env.Fragments))
	for i, f := range env.Fragments {
		if f.Text == "" || len(f.Embedding) == 0 {
			return Result{}, &Error{
				Kind:   KindMalformedOutput,
				Detail: fmt.Sprintf("fragment %d missing text or embedding", i),
			}
		}
		fragments[i] = domain.Fragment{
			Text:               f.Text,
			Embedding:          f.Embedding,
			SectionTitle:       f.SectionTitle,
			TokenCount:         f.TokenCount,
			CreatedWithOverlap: f.CreatedWithOverlap,
		}
	}

	return Result{Fragments: fragments, ArchiveURL: env.ArchiveURL}, nil
}
