package plan

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/bidstack/marketsync/internal/domain"
)

//go:embed schema.cue
var schemaCUE string

// planFile mirrors the CUE schema for decoding.
type planFile struct {
	Kinds     []string `json:"kinds"`
	BatchSize int      `json:"batchSize"`
	Retry     struct {
		MaxRetries  int    `json:"maxRetries"`
		BackoffBase string `json:"backoffBase"`
		BackoffCap  string `json:"backoffCap"`
	} `json:"retry"`
}

// Load reads and validates a CUE plan file.
func Load(path string) (*Plan, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	return Parse(src, path)
}

// Parse validates CUE plan source against the embedded schema and decodes
// it, applying schema defaults for omitted fields.
func Parse(src []byte, filename string) (*Plan, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("plan schema: %s", cueerrors.Details(err, nil))
	}

	val := ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("parse plan %s: %s", filename, cueerrors.Details(err, nil))
	}

	unified := schema.LookupPath(cue.ParsePath("#Plan")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate plan %s: %s", filename, cueerrors.Details(err, nil))
	}

	var pf planFile
	if err := unified.Decode(&pf); err != nil {
		return nil, fmt.Errorf("decode plan %s: %s", filename, cueerrors.Details(err, nil))
	}

	return fromFile(pf)
}

func fromFile(pf planFile) (*Plan, error) {
	p := &Plan{BatchSize: pf.BatchSize}

	for _, s := range pf.Kinds {
		kind, err := domain.ParseKind(s)
		if err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}
		p.Kinds = append(p.Kinds, kind)
	}

	base, err := time.ParseDuration(pf.Retry.BackoffBase)
	if err != nil {
		return nil, fmt.Errorf("plan: backoffBase: %w", err)
	}
	ceiling, err := time.ParseDuration(pf.Retry.BackoffCap)
	if err != nil {
		return nil, fmt.Errorf("plan: backoffCap: %w", err)
	}
	p.Retry = RetryPolicy{
		MaxRetries:  pf.Retry.MaxRetries,
		BackoffBase: base,
		BackoffCap:  ceiling,
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
