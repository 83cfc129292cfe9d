package terraform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/terraform-exec/tfexec"

	"github.com/vmforge/engine/internal/models"
)

// Log line sources.
const (
	SourceSystem    = "system"
	SourceTerraform = "terraform"
)

// LogFunc receives log lines as the underlying process produces output.
// Calls are synchronous and interleaved with the blocking operation.
type LogFunc func(level models.LogLevel, source, message string)

const planFileName = "tfplan"

// Runner drives one Terraform binary against one isolated workspace
// (directory + state file) owned by a single machine. Init and Plan have no
// observable side effect on the target cloud account; Apply carries no such
// guarantee and is never rolled back here.
type Runner struct {
	workspaceDir string
	logf         LogFunc
	tf           *tfexec.Terraform
}

// NewRunner binds a runner to the workspace identified by workspaceID under
// baseDir. The workspace persists across runs so the state file survives
// between deployments.
func NewRunner(baseDir, workspaceID string, logf LogFunc) *Runner {
	if logf == nil {
		logf = func(models.LogLevel, string, string) {}
	}
	return &Runner{
		workspaceDir: filepath.Join(baseDir, workspaceID),
		logf:         logf,
	}
}

// WorkspaceDir returns the runner's workspace directory.
func (r *Runner) WorkspaceDir() string { return r.workspaceDir }

// Init prepares the workspace: copies the machine module's .tf files in,
// then runs terraform init. Failure leaves no resources behind.
func (r *Runner) Init(ctx context.Context, modulePath string) error {
	if err := os.MkdirAll(r.workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	entries, err := os.ReadDir(modulePath)
	if err != nil {
		return fmt.Errorf("read module dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tf") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(modulePath, e.Name()))
		if err != nil {
			return fmt.Errorf("read module file %s: %w", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(r.workspaceDir, e.Name()), data, 0o644); err != nil {
			return fmt.Errorf("write module file %s: %w", e.Name(), err)
		}
	}

	tf, err := r.ensureTF()
	if err != nil {
		return err
	}

	r.logf(models.LogInfo, SourceSystem, "initializing workspace")
	if err := tf.Init(ctx, tfexec.Upgrade(true)); err != nil {
		return fmt.Errorf("terraform init: %w", err)
	}
	return nil
}

// PlanResult carries the plan phase outcome; PlanFile is the artifact Apply
// consumes.
type PlanResult struct {
	HasChanges bool
	PlanFile   string
}

// Plan writes vars to the workspace and computes an execution plan. Failure
// leaves no resources behind.
func (r *Runner) Plan(ctx context.Context, vars map[string]any) (*PlanResult, error) {
	tf, err := r.ensureTF()
	if err != nil {
		return nil, err
	}

	if err := writeVarFile(r.workspaceDir, vars); err != nil {
		return nil, err
	}

	r.logf(models.LogInfo, SourceSystem, "computing execution plan")
	hasChanges, err := tf.Plan(ctx, tfexec.Out(planFileName))
	if err != nil {
		return nil, fmt.Errorf("terraform plan: %w", err)
	}
	return &PlanResult{HasChanges: hasChanges, PlanFile: planFileName}, nil
}

// ApplyResult carries the outputs knowable after apply, partial or not.
type ApplyResult struct {
	Outputs map[string]any
}

// Apply executes a previously computed plan. On error the returned result
// holds whatever outputs are still readable; resources may be partially
// created and reconciliation discovers the truth later.
func (r *Runner) Apply(ctx context.Context, planFile string) (*ApplyResult, error) {
	tf, err := r.ensureTF()
	if err != nil {
		return nil, err
	}

	r.logf(models.LogInfo, SourceSystem, "applying execution plan")
	applyErr := tf.Apply(ctx, tfexec.DirOrPlan(planFile))

	res := &ApplyResult{Outputs: map[string]any{}}
	if outputs, err := tf.Output(ctx); err == nil {
		for k, o := range outputs {
			var v any
			if err := json.Unmarshal(o.Value, &v); err == nil {
				res.Outputs[k] = v
			}
		}
	}

	if applyErr != nil {
		return res, fmt.Errorf("terraform apply: %w", applyErr)
	}
	return res, nil
}

// Destroy tears down everything in the workspace's state. No init or plan
// phase is required; the workspace's existing configuration and state are
// used as-is.
func (r *Runner) Destroy(ctx context.Context) error {
	tf, err := r.ensureTF()
	if err != nil {
		return err
	}

	r.logf(models.LogInfo, SourceSystem, "destroying resources")
	if err := tf.Destroy(ctx); err != nil {
		return fmt.Errorf("terraform destroy: %w", err)
	}
	return nil
}

// Cleanup removes the workspace directory. Only call after a terminal
// destroy; the state file is gone afterwards.
func (r *Runner) Cleanup() error {
	return os.RemoveAll(r.workspaceDir)
}

func (r *Runner) ensureTF() (*tfexec.Terraform, error) {
	if r.tf != nil {
		return r.tf, nil
	}

	tfPath, err := exec.LookPath("terraform")
	if err != nil {
		return nil, fmt.Errorf("terraform not found in PATH: %w", err)
	}
	tf, err := tfexec.NewTerraform(r.workspaceDir, tfPath)
	if err != nil {
		return nil, fmt.Errorf("create terraform handle: %w", err)
	}

	tf.SetStdout(newLineWriter(models.LogInfo, SourceTerraform, r.logf))
	tf.SetStderr(newLineWriter(models.LogError, SourceTerraform, r.logf))

	r.tf = tf
	return tf, nil
}

func writeVarFile(dir string, vars map[string]any) error {
	b, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "terraform.tfvars.json"), b, 0o600); err != nil {
		return fmt.Errorf("write var file: %w", err)
	}
	return nil
}

// lineWriter splits process output into lines and forwards each through the
// log callback as it arrives.
type lineWriter struct {
	level  models.LogLevel
	source string
	logf   LogFunc

	mu  sync.Mutex
	buf strings.Builder
}

func newLineWriter(level models.LogLevel, source string, logf LogFunc) *lineWriter {
	return &lineWriter{level: level, source: source, logf: logf}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			line := strings.TrimRight(w.buf.String(), "\r")
			w.buf.Reset()
			if strings.TrimSpace(line) != "" {
				w.logf(w.level, w.source, line)
			}
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}
