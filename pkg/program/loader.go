package program

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Format of a program file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension. Anything but .json is YAML.
func FormatOf(path string) Format {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		return FormatJSON
	}
	return FormatYAML
}

// rawProgram mirrors the file layout. It uses "mapstructure" tags so YAML and
// JSON documents decode through the same generic map.
type rawProgram struct {
	Main      string                 `mapstructure:"main"`
	Functions map[string]rawFunction `mapstructure:"functions"`
}

type rawFunction struct {
	Body   []rawStatement `mapstructure:"body"`
	Native bool           `mapstructure:"native"`
	Result *bool          `mapstructure:"result"`
	Fail   bool           `mapstructure:"fail"`
	Delay  time.Duration  `mapstructure:"delay"`
}

type rawStatement struct {
	Pass bool           `mapstructure:"pass"`
	Call string         `mapstructure:"call"`
	Args []rawCall      `mapstructure:"args"`
	If   []rawBranch    `mapstructure:"if"`
	Else []rawStatement `mapstructure:"else"`
}

type rawCall struct {
	Call string    `mapstructure:"call"`
	Args []rawCall `mapstructure:"args"`
}

type rawBranch struct {
	When rawCall        `mapstructure:"when"`
	Then []rawStatement `mapstructure:"then"`
}

// Load reads and validates a program file (YAML or JSON).
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	lib, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

// Parse decodes and validates a program document.
func Parse(data []byte, format Format) (*Library, error) {
	var doc map[string]any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}

	var raw rawProgram
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &raw,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to decode program: %w", err)
	}

	lib, err := raw.build()
	if err != nil {
		return nil, err
	}
	if err := Validate(lib); err != nil {
		return nil, err
	}
	return lib, nil
}

func (r rawProgram) build() (*Library, error) {
	lib := &Library{
		Main:      domain.FunctionID(r.Main),
		Functions: make(map[domain.FunctionID]*Function, len(r.Functions)),
	}
	for name, rf := range r.Functions {
		id := domain.FunctionID(name)
		body, err := buildBlock(rf.Body)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", name, err)
		}
		lib.Functions[id] = &Function{
			ID:     id,
			Body:   body,
			Native: rf.Native,
			Result: rf.Result,
			Fail:   rf.Fail,
			Delay:  rf.Delay,
		}
	}
	return lib, nil
}

func buildBlock(raws []rawStatement) ([]Statement, error) {
	stmts := make([]Statement, 0, len(raws))
	for i, rs := range raws {
		st, err := rs.build()
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		stmts = append(stmts, st)
	}
	return stmts, nil
}

func (r rawStatement) build() (Statement, error) {
	set := 0
	if r.Pass {
		set++
	}
	if r.Call != "" {
		set++
	}
	if len(r.If) > 0 {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of pass, call or if is required")
	}
	if len(r.Else) > 0 && len(r.If) == 0 {
		return nil, fmt.Errorf("else without if")
	}
	if len(r.Args) > 0 && r.Call == "" {
		return nil, fmt.Errorf("args without call")
	}

	switch {
	case r.Pass:
		return Pass{}, nil
	case r.Call != "":
		return rawCall{Call: r.Call, Args: r.Args}.build(), nil
	default:
		st := If{Branches: make([]Branch, 0, len(r.If))}
		for k, rb := range r.If {
			if rb.When.Call == "" {
				return nil, fmt.Errorf("branch %d: missing condition", k)
			}
			body, err := buildBlock(rb.Then)
			if err != nil {
				return nil, fmt.Errorf("branch %d: %w", k, err)
			}
			st.Branches = append(st.Branches, Branch{Condition: rb.When.build(), Body: body})
		}
		elseBody, err := buildBlock(r.Else)
		if err != nil {
			return nil, fmt.Errorf("else: %w", err)
		}
		st.Else = elseBody
		return st, nil
	}
}

func (r rawCall) build() Call {
	c := Call{Function: domain.FunctionID(r.Call)}
	for _, a := range r.Args {
		c.Args = append(c.Args, a.build())
	}
	return c
}
