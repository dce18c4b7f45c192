package program

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/calltrace/pkg/domain"
)

// Validate checks that the library can be run: the entry point exists, every
// called function exists, ids are usable in stack text form and native
// functions have no body. All problems are reported together.
func Validate(lib *Library) error {
	var errs []error

	if lib.Main == "" {
		errs = append(errs, fmt.Errorf("main function not set"))
	} else if _, ok := lib.Lookup(lib.Main); !ok {
		errs = append(errs, fmt.Errorf("main: %w: %s", domain.ErrUnknownFunction, lib.Main))
	}

	for _, id := range lib.Names() {
		fn := lib.Functions[id]
		if id == "" || strings.Contains(string(id), "/") {
			errs = append(errs, fmt.Errorf("invalid function id %q", id))
		}
		if fn.Native && len(fn.Body) > 0 {
			errs = append(errs, fmt.Errorf("function %s: native function cannot have a body", id))
		}
		if fn.Delay < 0 {
			errs = append(errs, fmt.Errorf("function %s: negative delay", id))
		}
		errs = append(errs, validateBlock(lib, id, fn.Body)...)
	}

	return errors.Join(errs...)
}

func validateBlock(lib *Library, owner domain.FunctionID, body []Statement) []error {
	var errs []error
	for i, st := range body {
		switch st := st.(type) {
		case Call:
			errs = append(errs, validateCall(lib, owner, i, st)...)
		case If:
			if len(st.Branches) == 0 {
				errs = append(errs, fmt.Errorf("function %s, statement %d: if without branches", owner, i))
			}
			for _, b := range st.Branches {
				errs = append(errs, validateCall(lib, owner, i, b.Condition)...)
				errs = append(errs, validateBlock(lib, owner, b.Body)...)
			}
			errs = append(errs, validateBlock(lib, owner, st.Else)...)
		}
	}
	return errs
}

func validateCall(lib *Library, owner domain.FunctionID, stmt int, c Call) []error {
	var errs []error
	if _, ok := lib.Lookup(c.Function); !ok {
		errs = append(errs, fmt.Errorf("function %s, statement %d: %w: %s", owner, stmt, domain.ErrUnknownFunction, c.Function))
	}
	for _, a := range c.Args {
		errs = append(errs, validateCall(lib, owner, stmt, a)...)
	}
	return errs
}
