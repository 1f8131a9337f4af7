package judge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rogers-f/taskraid/internal/domain"
)

// DefaultTimeout bounds one judge process when CommandSpec.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// CommandSpec describes an external judge process.
type CommandSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// CommandJudge runs an external process per submission. The process receives
// one JSON request line on stdin and must print a JSON verdict line on stdout.
// Lines that are not a verdict are skipped.
type CommandJudge struct {
	Spec CommandSpec
}

type commandRequest struct {
	ImageBase64     string `json:"image_base64"`
	ContentType     string `json:"content_type"`
	TaskTitle       string `json:"task_title"`
	TaskDescription string `json:"task_description"`
}

// NewCommandJudge validates the command spec and returns a judge.
func NewCommandJudge(spec CommandSpec) (*CommandJudge, error) {
	if spec.Command == "" {
		return nil, domain.Detail(domain.ErrConfigInvalid, "judge command is required")
	}
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultTimeout
	}
	return &CommandJudge{Spec: spec}, nil
}

// Judge implements Judge.
func (j *CommandJudge) Judge(ctx context.Context, ev Evidence) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, j.Spec.Timeout)
	defer cancel()

	req, err := json.Marshal(commandRequest{
		ImageBase64:     base64.StdEncoding.EncodeToString(ev.Image),
		ContentType:     ev.ContentType,
		TaskTitle:       ev.TaskTitle,
		TaskDescription: ev.TaskDescription,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("encode judge request: %w", err)
	}

	cmd := exec.CommandContext(ctx, j.Spec.Command, j.Spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range j.Spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(append(req, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return Verdict{}, domain.WrapEngineError(domain.ErrJudgeUnavailable.Code, "judge timed out", ctx.Err())
	}

	if v, ok := parseVerdict(stdout.Bytes()); ok {
		return v, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Verdict{}, domain.WrapEngineError(domain.ErrJudgeUnavailable.Code,
				"judge exited", fmt.Errorf("%w: %s", runErr, bytes.TrimSpace(stderr.Bytes())))
		}
		return Verdict{}, domain.WrapEngineError(domain.ErrJudgeUnavailable.Code, "start judge", runErr)
	}
	return Verdict{}, domain.Detail(domain.ErrJudgeBadResponse, "no verdict line on stdout")
}

// parseVerdict returns the first stdout line that decodes to a verdict.
func parseVerdict(out []byte) (Verdict, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var raw struct {
			Approved *bool  `json:"approved"`
			Reason   string `json:"reason"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			continue
		}
		if raw.Approved == nil {
			continue
		}
		return Verdict{Approved: *raw.Approved, Reason: raw.Reason}, true
	}
	return Verdict{}, false
}
