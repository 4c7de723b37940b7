package unit

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/davidthor/stackctl/pkg/errors"
)

// Parser parses unit and include configuration files.
type Parser struct {
	parser *hclparse.Parser
}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{
		parser: hclparse.NewParser(),
	}
}

// rawInclude is an include block before target resolution.
type rawInclude struct {
	Label     string
	Path      string // explicit path, relative to the declaring file
	Name      string // ancestor search by file name
	DeclRange hcl.Range
}

// rawFile is a parsed configuration file before include assembly.
type rawFile struct {
	File     *File
	Includes []rawInclude
}

// ParseFile parses an include-chain configuration file (include, locals,
// inputs). The include targets are left unresolved.
func (p *Parser) ParseFile(path string) (*rawFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.LoadError(path, err)
	}
	return p.parseFileBytes(data, path)
}

func (p *Parser) parseFileBytes(data []byte, path string) (*rawFile, error) {
	hclFile, diags := p.parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, errors.LoadError(path, fmt.Errorf("%s", diags.Error()))
	}

	bodySchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "inputs"},
		},
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "include", LabelNames: []string{"label"}},
			{Type: "locals"},
		},
	}

	// Include files may sit next to unit-only blocks when a unit.hcl is
	// itself included by another unit, so unknown blocks are tolerated here.
	content, _, moreDiags := hclFile.Body.PartialContent(bodySchema)
	if moreDiags.HasErrors() {
		return nil, errors.LoadError(path, fmt.Errorf("%s", moreDiags.Error()))
	}

	raw := &rawFile{
		File: &File{
			Path:   path,
			Dir:    dirOf(path),
			Locals: make(map[string]hcl.Expression),
		},
	}

	if attr, ok := content.Attributes["inputs"]; ok {
		raw.File.InputsExpr = attr.Expr
	}

	for _, block := range content.Blocks.OfType("include") {
		inc, err := p.parseInclude(block, path)
		if err != nil {
			return nil, err
		}
		raw.Includes = append(raw.Includes, *inc)
	}

	for _, block := range content.Blocks.OfType("locals") {
		attrs, attrDiags := block.Body.JustAttributes()
		if attrDiags.HasErrors() {
			return nil, errors.LoadError(path, fmt.Errorf("%s", attrDiags.Error()))
		}
		for name, attr := range attrs {
			if _, exists := raw.File.Locals[name]; exists {
				return nil, errors.LoadError(path, fmt.Errorf("duplicate local value %q", name))
			}
			raw.File.Locals[name] = attr.Expr
		}
	}

	return raw, nil
}

// ParseUnitFile parses a unit.hcl, returning the unit-only blocks alongside
// the shared include-chain file content.
func (p *Parser) ParseUnitFile(path string) (*Unit, *rawFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.LoadError(path, err)
	}

	raw, err := p.parseFileBytes(data, path)
	if err != nil {
		return nil, nil, err
	}

	hclFile, diags := p.parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, nil, errors.LoadError(path, fmt.Errorf("%s", diags.Error()))
	}

	bodySchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "source"},
			{Name: "skip"},
			{Name: "timeout"},
		},
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "dependency", LabelNames: []string{"name"}},
			{Type: "generate", LabelNames: []string{"label"}},
		},
	}

	content, _, moreDiags := hclFile.Body.PartialContent(bodySchema)
	if moreDiags.HasErrors() {
		return nil, nil, errors.LoadError(path, fmt.Errorf("%s", moreDiags.Error()))
	}

	u := &Unit{
		Dir:    dirOf(path),
		Config: raw.File,
	}

	if attr, ok := content.Attributes["source"]; ok {
		u.SourceExpr = attr.Expr
	}

	if attr, ok := content.Attributes["skip"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, nil, errors.LoadError(path, fmt.Errorf("skip must be a literal boolean: %s", valDiags.Error()))
		}
		u.Skip = val.True()
	}

	if attr, ok := content.Attributes["timeout"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, nil, errors.LoadError(path, fmt.Errorf("timeout must be a literal string: %s", valDiags.Error()))
		}
		timeout, err := time.ParseDuration(val.AsString())
		if err != nil {
			return nil, nil, errors.LoadError(path, fmt.Errorf("invalid timeout: %w", err))
		}
		u.Timeout = timeout
	}

	for _, block := range content.Blocks.OfType("dependency") {
		dep, err := p.parseDependency(block, path)
		if err != nil {
			return nil, nil, err
		}
		u.Dependencies = append(u.Dependencies, *dep)
	}

	for _, block := range content.Blocks.OfType("generate") {
		gen, err := p.parseGenerate(block, path)
		if err != nil {
			return nil, nil, err
		}
		u.Generates = append(u.Generates, *gen)
	}

	return u, raw, nil
}

func (p *Parser) parseInclude(block *hcl.Block, path string) (*rawInclude, error) {
	incSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "path"},
			{Name: "name"},
		},
	}

	content, diags := block.Body.Content(incSchema)
	if diags.HasErrors() {
		return nil, errors.LoadError(path, fmt.Errorf("%s", diags.Error()))
	}

	inc := &rawInclude{
		Label:     block.Labels[0],
		DeclRange: block.DefRange,
	}

	if attr, ok := content.Attributes["path"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, errors.LoadError(path, fmt.Errorf("include %q: path must be a literal string: %s", inc.Label, valDiags.Error()))
		}
		inc.Path = val.AsString()
	}

	if attr, ok := content.Attributes["name"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, errors.LoadError(path, fmt.Errorf("include %q: name must be a literal string: %s", inc.Label, valDiags.Error()))
		}
		inc.Name = val.AsString()
	}

	if (inc.Path == "") == (inc.Name == "") {
		return nil, errors.LoadError(path, fmt.Errorf("include %q must set exactly one of 'path' or 'name'", inc.Label))
	}

	return inc, nil
}

func (p *Parser) parseDependency(block *hcl.Block, path string) (*Dependency, error) {
	depSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "config_path", Required: true},
			{Name: "mock_outputs"},
			{Name: "skip_outputs"},
		},
	}

	content, diags := block.Body.Content(depSchema)
	if diags.HasErrors() {
		return nil, errors.LoadError(path, fmt.Errorf("%s", diags.Error()))
	}

	dep := &Dependency{
		Name:      block.Labels[0],
		DeclRange: block.DefRange,
	}

	if attr, ok := content.Attributes["config_path"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, errors.LoadError(path, fmt.Errorf("dependency %q: config_path must be a literal string: %s", dep.Name, valDiags.Error()))
		}
		dep.ConfigPath = val.AsString()
	}

	if attr, ok := content.Attributes["mock_outputs"]; ok {
		dep.MockOutputsExpr = attr.Expr
	}

	if attr, ok := content.Attributes["skip_outputs"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, errors.LoadError(path, fmt.Errorf("dependency %q: skip_outputs must be a literal boolean: %s", dep.Name, valDiags.Error()))
		}
		dep.SkipOutputs = val.True()
	}

	return dep, nil
}

func (p *Parser) parseGenerate(block *hcl.Block, path string) (*Generate, error) {
	genSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "path", Required: true},
			{Name: "if_exists"},
			{Name: "contents", Required: true},
		},
	}

	content, diags := block.Body.Content(genSchema)
	if diags.HasErrors() {
		return nil, errors.LoadError(path, fmt.Errorf("%s", diags.Error()))
	}

	gen := &Generate{
		Label:    block.Labels[0],
		IfExists: CollisionOverwrite,
	}

	if attr, ok := content.Attributes["path"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, errors.LoadError(path, fmt.Errorf("generate %q: path must be a literal string: %s", gen.Label, valDiags.Error()))
		}
		gen.Path = val.AsString()
	}

	if attr, ok := content.Attributes["if_exists"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, errors.LoadError(path, fmt.Errorf("generate %q: if_exists must be a literal string: %s", gen.Label, valDiags.Error()))
		}
		policy := CollisionPolicy(val.AsString())
		switch policy {
		case CollisionOverwrite, CollisionSkip, CollisionError:
			gen.IfExists = policy
		default:
			return nil, errors.LoadError(path, fmt.Errorf("generate %q: unknown if_exists policy %q", gen.Label, val.AsString()))
		}
	}

	if attr, ok := content.Attributes["contents"]; ok {
		gen.ContentsExpr = attr.Expr
	}

	return gen, nil
}
