package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"gopkg.in/yaml.v3"

	"github.com/picklr-io/dockstate/internal/ir"
	"github.com/picklr-io/dockstate/internal/logging"
)

// Loader reads declaration files into IR. The format is chosen by extension.
type Loader struct {
	projectDir string
	properties map[string]string
}

func NewLoader(projectDir string) *Loader {
	return &Loader{projectDir: projectDir}
}

// WithProperties sets external properties passed to Pkl evaluation.
func (l *Loader) WithProperties(props map[string]string) *Loader {
	l.properties = props
	return l
}

// Load parses path and returns the declared configuration. It does not
// validate the resources.
func (l *Loader) Load(ctx context.Context, path string) (*ir.Config, error) {
	if !filepath.IsAbs(path) && l.projectDir != "" {
		path = filepath.Join(l.projectDir, path)
	}
	logging.Debug("loading declarations", "path", path)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pkl":
		return l.loadPkl(ctx, path)
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return ParseYAML(data)
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported declaration format %q (want .pkl, .yaml, .yml or .json)", ext)
	}
}

// ParseYAML decodes a YAML declaration document.
func ParseYAML(data []byte) (*ir.Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg ir.Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML declarations: %w", err)
	}
	return normalize(&cfg), nil
}

// ParseJSON decodes a JSON declaration document.
func ParseJSON(data []byte) (*ir.Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg ir.Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON declarations: %w", err)
	}
	return normalize(&cfg), nil
}

func (l *Loader) loadPkl(ctx context.Context, path string) (*ir.Config, error) {
	dir := l.projectDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	u, err := url.Parse("file://" + filepath.ToSlash(abs) + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	evaluator, err := pkl.NewProjectEvaluator(ctx, u, l.evaluatorOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var cfg ir.Config
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(path), &cfg); err != nil {
		return nil, fmt.Errorf("failed to evaluate config: %w", err)
	}
	return normalize(&cfg), nil
}

// evaluatorOptions returns the Pkl options with the external properties
// layered over the preconfigured ones.
func (l *Loader) evaluatorOptions() []func(*pkl.EvaluatorOptions) {
	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(l.properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range l.properties {
				o.Properties[k] = v
			}
		})
	}
	return opts
}

// normalize turns decoder-specific property trees into plain maps and lists.
func normalize(cfg *ir.Config) *ir.Config {
	for _, r := range cfg.Resources {
		if r == nil {
			continue
		}
		props := make(map[string]any, len(r.Properties))
		for k, v := range r.Properties {
			props[k] = plainValue(v)
		}
		r.Properties = props
	}
	return cfg
}

func plainValue(v any) any {
	switch val := v.(type) {
	case pkl.Object:
		if len(val.Elements) > 0 {
			return plainValue(val.Elements)
		}
		m := make(map[string]any, len(val.Properties)+len(val.Entries))
		for k, v := range val.Properties {
			m[k] = plainValue(v)
		}
		for k, v := range val.Entries {
			m[fmt.Sprintf("%v", k)] = plainValue(v)
		}
		return m
	case *pkl.Object:
		if val == nil {
			return nil
		}
		return plainValue(*val)
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[fmt.Sprintf("%v", k)] = plainValue(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[k] = plainValue(v)
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = plainValue(v)
		}
		return out
	default:
		return val
	}
}
