package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/astra/telemetry"
)

// PolicyLoader reads .rego files into an engine
type PolicyLoader struct {
	bundlePath string
	engine     *PolicyEngine
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// NewPolicyLoader loads policies from bundlePath, a .rego file or a directory
func NewPolicyLoader(bundlePath string, engine *PolicyEngine) *PolicyLoader {
	return &PolicyLoader{
		bundlePath: bundlePath,
		engine:     engine,
		logger:     telemetry.NewLogger("policy-loader"),
		tracer:     otel.Tracer("policy-loader"),
	}
}

// LoadGuard builds an engine holding the policies found at path
func LoadGuard(ctx context.Context, path string) (*PolicyEngine, error) {
	engine := NewPolicyEngine()
	if err := NewPolicyLoader(path, engine).LoadPolicies(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

// LoadPolicies loads every .rego file under the bundle path
func (pl *PolicyLoader) LoadPolicies(ctx context.Context) error {
	ctx, span := pl.tracer.Start(ctx, "policy_loader.load_policies",
		trace.WithAttributes(attribute.String("bundle_path", pl.bundlePath)))
	defer span.End()

	pl.logger.WithContext(ctx).Info().
		Str("bundle_path", pl.bundlePath).
		Msg("loading policy bundle")

	info, err := os.Stat(pl.bundlePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("policy bundle path does not exist: %s", pl.bundlePath)
	}
	if err != nil {
		return fmt.Errorf("failed to stat policy bundle: %w", err)
	}

	if !info.IsDir() {
		return pl.loadPolicyFile(ctx, pl.bundlePath)
	}

	return filepath.Walk(pl.bundlePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || !strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, "_test.rego") {
			return nil
		}

		return pl.loadPolicyFile(ctx, path)
	})
}

func (pl *PolicyLoader) loadPolicyFile(ctx context.Context, filePath string) error {
	ctx, span := pl.tracer.Start(ctx, "policy_loader.load_file",
		trace.WithAttributes(attribute.String("file_path", filePath)))
	defer span.End()

	if err := pl.validateFilePath(filePath); err != nil {
		return fmt.Errorf("invalid file path %s: %w", filePath, err)
	}

	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", filePath, err)
	}

	policyName := strings.TrimSuffix(filepath.Base(filePath), ".rego")

	if err := pl.engine.LoadPolicy(ctx, policyName, string(content)); err != nil {
		return fmt.Errorf("failed to load policy %s from %s: %w", policyName, filePath, err)
	}

	pl.logger.WithContext(ctx).Debug().
		Str("policy_name", policyName).
		Str("file_path", filePath).
		Msg("policy file loaded")

	return nil
}

func (pl *PolicyLoader) validateFilePath(filePath string) error {
	cleanPath := filepath.Clean(filePath)

	bundlePath := filepath.Clean(pl.bundlePath)
	if cleanPath == bundlePath {
		return nil
	}

	relPath, err := filepath.Rel(bundlePath, cleanPath)
	if err != nil {
		return fmt.Errorf("failed to resolve relative path: %w", err)
	}

	if strings.HasPrefix(relPath, "..") || strings.Contains(relPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected")
	}

	return nil
}
