package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// Parser parses and validates CUE deployment configurations. Parsing goes
// through three gates: CUE schema unification, struct-tag validation, and the
// core topology invariants (pool capacity bounds, placement exclusivity,
// declared pool references).
type Parser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewParser creates a new parser with the built-in deployment schema.
func NewParser() (*Parser, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(deploymentSchema)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile deployment schema: %w", err)
	}
	return &Parser{
		ctx:       ctx,
		schema:    schema.LookupPath(cue.ParsePath("#Deployment")),
		validator: validator.New(),
	}, nil
}

// Load parses the deployment configuration at path, which may be a single
// .cue file or a directory holding a CUE package.
func (p *Parser) Load(path string) (*DeploymentConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
	}

	var val cue.Value
	if info.IsDir() {
		val, err = p.loadDirectory(path)
	} else {
		val, err = p.loadFile(path)
	}
	if err != nil {
		return nil, err
	}

	return p.decode(val)
}

// ParseInline parses inline CUE content. Tests and the policy tooling use it.
func (p *Parser) ParseInline(content string) (*DeploymentConfig, error) {
	val := p.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	return p.decode(val)
}

// loadDirectory loads a directory as a CUE package.
func (p *Parser) loadDirectory(dir string) (cue.Value, error) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return cue.Value{}, ValidationErrors{{File: dir, Message: "no CUE files found"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, convertCUEErrors(inst.Err)
	}

	val := p.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// loadFile loads a single CUE file.
func (p *Parser) loadFile(path string) (cue.Value, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	val := p.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// decode unifies the value with the deployment schema, decodes it, and runs
// the remaining validation gates.
func (p *Parser) decode(val cue.Value) (*DeploymentConfig, error) {
	// The deployment may sit at the root or under a "deployment" field.
	if d := val.LookupPath(cue.ParsePath("deployment")); d.Exists() {
		val = d
	}

	unified := p.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var cfg DeploymentConfig
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode deployment: %w", err)
	}

	if err := p.validator.Struct(&cfg); err != nil {
		return nil, convertValidatorErrors(err)
	}

	if cfg.Options.MultiRegion && cfg.Options.SecondaryLocation == "" {
		return nil, ValidationErrors{{
			Path:    "options.secondary_location",
			Message: "secondary location is required for multi-region deployments",
		}}
	}

	// Topology invariants: pool capacity bounds, placement exclusivity,
	// declared pool references.
	if err := cfg.ToInfraSpec().Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// convertCUEErrors flattens CUE's error list into ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{Message: cueerrors.Details(e, nil)}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// convertValidatorErrors maps struct-tag validation failures to
// ValidationErrors.
func convertValidatorErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed %s validation", fe.Tag()),
		})
	}
	return out
}
