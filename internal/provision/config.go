package provision

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cadbridge-labs/cadbridge-go/internal/automation"
	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

// ParameterDef maps one activity argument name to the filename the engine
// sees in its working directory.
type ParameterDef struct {
	Name        string `yaml:"name"`
	LocalName   string `yaml:"local_name"`
	Verb        string `yaml:"verb"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
}

// Stage describes the farm resources one pipeline stage needs: the bundle
// archive, the engine it runs on, and the activity's command template.
type Stage struct {
	BundleName   string         `yaml:"bundle_name"`
	PackagePath  string         `yaml:"package_path"`
	Engine       string         `yaml:"engine"`
	ActivityName string         `yaml:"activity_name"`
	Description  string         `yaml:"description"`
	CommandLine  []string       `yaml:"command_line"`
	Parameters   []ParameterDef `yaml:"parameters"`
}

// SourceStage converts the submitted document into the intermediate
// geometry artifact.
type SourceStage struct {
	Stage `yaml:",inline"`

	// IntermediateSuffix names the blob object holding the stage output,
	// appended to the encoded source version id.
	IntermediateSuffix string `yaml:"intermediate_suffix"`
}

// TargetStage imports the intermediate artifact into every eligible target
// document.
type TargetStage struct {
	Stage `yaml:",inline"`

	// TargetExtension selects the documents in the source folder that
	// receive a conversion job.
	TargetExtension string `yaml:"target_extension"`

	// ResultSuffix names the per-document output file.
	ResultSuffix string `yaml:"result_suffix"`

	// TemplateObject and TemplatePath locate the shared template asset:
	// the blob key it is served from and the local file it is seeded from.
	TemplateObject string `yaml:"template_object"`
	TemplatePath   string `yaml:"template_path"`
}

// Config is the full two-stage pipeline definition, loaded from YAML.
type Config struct {
	Source SourceStage `yaml:"source"`
	Target TargetStage `yaml:"target"`
}

func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read stage config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse stage config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Source.Stage.validate(); err != nil {
		return fmt.Errorf("source stage: %w", err)
	}
	if err := c.Target.Stage.validate(); err != nil {
		return fmt.Errorf("target stage: %w", err)
	}
	if c.Source.IntermediateSuffix == "" {
		c.Source.IntermediateSuffix = ".sat"
	}
	if !strings.HasPrefix(c.Source.IntermediateSuffix, ".") {
		return errors.New("source stage: intermediate suffix must start with a dot")
	}
	if c.Target.TargetExtension == "" {
		return errors.New("target stage: target extension is required")
	}
	if c.Target.ResultSuffix == "" {
		return errors.New("target stage: result suffix is required")
	}
	if c.Target.TemplateObject == "" || c.Target.TemplatePath == "" {
		return errors.New("target stage: template object and path are required")
	}
	return nil
}

func (s *Stage) validate() error {
	if strings.TrimSpace(s.BundleName) == "" {
		return errors.New("bundle name is required")
	}
	if strings.TrimSpace(s.PackagePath) == "" {
		return errors.New("package path is required")
	}
	if strings.TrimSpace(s.Engine) == "" {
		return errors.New("engine is required")
	}
	if strings.TrimSpace(s.ActivityName) == "" {
		return errors.New("activity name is required")
	}
	if len(s.CommandLine) == 0 {
		return errors.New("command line is required")
	}
	if len(s.Parameters) == 0 {
		return errors.New("at least one parameter is required")
	}
	for _, p := range s.Parameters {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.LocalName) == "" {
			return fmt.Errorf("parameter %q: name and local name are required", p.Name)
		}
		switch domain.Verb(p.Verb) {
		case domain.VerbGet, domain.VerbPut:
		default:
			return fmt.Errorf("parameter %q: verb must be get or put", p.Name)
		}
	}
	return nil
}

// ActivityParameters converts the stage's parameter definitions into the
// farm's argument contract.
func (s *Stage) ActivityParameters() map[string]automation.Parameter {
	params := make(map[string]automation.Parameter, len(s.Parameters))
	for _, p := range s.Parameters {
		params[p.Name] = automation.Parameter{
			Verb:        domain.Verb(p.Verb),
			LocalName:   p.LocalName,
			Required:    p.Required,
			Description: p.Description,
		}
	}
	return params
}
