package persist

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/schema"
)

// Engine binds a schema registry to a backend. It is safe to share; all
// per-session state lives in the scopes it hands out.
type Engine struct {
	reg      *schema.Registry
	be       backend.Backend
	log      zerolog.Logger
	validate bool
	triggers bool
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithValidation checks every table, key, field and foreign key against the
// live store when the engine opens.
func WithValidation(on bool) Option {
	return func(e *Engine) { e.validate = on }
}

// WithVersionTriggers controls whether Open installs missing version guards
// on versioned tables. It is on by default.
func WithVersionTriggers(on bool) Option {
	return func(e *Engine) { e.triggers = on }
}

func Open(ctx context.Context, reg *schema.Registry, be backend.Backend, opts ...Option) (*Engine, error) {
	if reg == nil || be == nil {
		return nil, fmt.Errorf("persist: registry and backend are required")
	}
	e := &Engine{reg: reg, be: be, log: zerolog.Nop(), triggers: true}
	for _, opt := range opts {
		opt(e)
	}
	if e.validate {
		if err := e.Validate(ctx); err != nil {
			return nil, err
		}
	}
	if e.triggers {
		if err := e.EnsureVersionTriggers(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Registry() *schema.Registry { return e.reg }

func (e *Engine) Backend() backend.Backend { return e.be }

func (e *Engine) Logger() zerolog.Logger { return e.log }

// Validate checks the registry against the live store.
func (e *Engine) Validate(ctx context.Context) error {
	for _, t := range e.reg.Tables() {
		ok, err := e.be.TableExists(ctx, t)
		if err != nil {
			return wrap("validate", t.Name, err)
		}
		if !ok {
			return &schema.ConfigError{Table: t.Name, Message: fmt.Sprintf("table %s does not exist", t.QualifiedName())}
		}
		if err := e.be.ValidatePrimaryKeys(ctx, t); err != nil {
			return wrap("validate", t.Name, err)
		}
		for _, f := range t.Fields() {
			if err := e.be.ValidateField(ctx, t, f); err != nil {
				return wrap("validate", t.Name, err)
			}
		}
		for _, rel := range t.ToOnes() {
			if err := e.be.ValidateForeignKey(ctx, t, rel); err != nil {
				return wrap("validate", t.Name, err)
			}
		}
	}
	return nil
}

// EnsureVersionTriggers installs the version guard on every versioned table
// that lacks one and returns the names of the triggers it created.
func (e *Engine) EnsureVersionTriggers(ctx context.Context) error {
	_, err := EnsureVersionTriggers(ctx, e.reg, e.be, e.log)
	return err
}

// EnsureVersionTriggers is the engine-free form used by the CLI.
func EnsureVersionTriggers(ctx context.Context, reg *schema.Registry, be backend.Backend, log zerolog.Logger) ([]string, error) {
	var created []string
	for _, t := range reg.Tables() {
		if !t.Versioned {
			continue
		}
		name := backend.VersionTriggerName(t)
		ok, err := be.TriggerExists(ctx, t, name)
		if err != nil {
			return created, wrap("trigger", t.Name, err)
		}
		if ok {
			continue
		}
		if err := be.CreateVersionTrigger(ctx, t, name); err != nil {
			return created, wrap("trigger", t.Name, err)
		}
		log.Info().Str("table", t.Name).Str("trigger", name).Msg("created version trigger")
		created = append(created, name)
	}
	return created, nil
}

func (e *Engine) NewScope() *Scope {
	return &Scope{engine: e, buckets: map[string]map[string]Entity{}}
}

// table resolves the table an entity is stored in.
func (e *Engine) table(ent Entity) (*schema.Table, error) {
	if ent == nil {
		return nil, &schema.ConfigError{Message: "nil entity"}
	}
	t, ok := e.reg.Table(ent.TableName())
	if !ok {
		return nil, &schema.ConfigError{Table: ent.TableName(), Message: "table is not registered"}
	}
	return t, nil
}

func (e *Engine) tableByName(name string) (*schema.Table, error) {
	t, ok := e.reg.Table(name)
	if !ok {
		return nil, &schema.ConfigError{Table: name, Message: "table is not registered"}
	}
	return t, nil
}

// newEntity builds an instance of t through its bound factory.
func newEntity(t *schema.Table) (Entity, error) {
	a, err := t.New()
	if err != nil {
		return nil, err
	}
	ent, ok := a.(Entity)
	if !ok {
		return nil, &schema.ConfigError{Table: t.Name, Message: fmt.Sprintf("factory returned %T, which is not an Entity", a)}
	}
	return ent, nil
}
