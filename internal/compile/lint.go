package compile

import (
	"fmt"
	"os/exec"
	"strings"

	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ResourceCommand is the virtual command loaded modules use to read their
// embedded resources: `kiln-resource <name>` writes the blob to stdout.
// The script backend serves it; the lint pass treats it as always defined.
const ResourceCommand = "kiln-resource"

// lint runs the warning passes over a context's parsed units: function
// redefinition, use of eval, and calls to names that resolve neither to a
// function in the dependency closure nor to a runnable command. Findings
// are warnings only; whether they block loading is decided later by the
// escalation policy.
func lint(cc *Context) {
	declared := make(map[string]string) // function name -> defining unit

	type callSite struct {
		name string
		unit string
		line int
		col  int
	}
	var calls []callSite

	for _, unit := range cc.Units {
		if unit.Prog == nil {
			continue
		}
		syntax.Walk(unit.Prog, func(node syntax.Node) bool {
			switch n := node.(type) {
			case *syntax.FuncDecl:
				name := n.Name.Value
				if prev, ok := declared[name]; ok {
					cc.Diagnostics = append(cc.Diagnostics, Diagnostic{
						Severity: SeverityWarning,
						File:     unit.Path,
						Line:     int(n.Pos().Line()),
						Col:      int(n.Pos().Col()),
						Message:  fmt.Sprintf("function %q redefined (first defined in %s)", name, prev),
					})
				} else {
					declared[name] = unit.Path
				}
			case *syntax.CallExpr:
				if len(n.Args) == 0 {
					return true
				}
				name := n.Args[0].Lit()
				if name == "eval" {
					cc.Diagnostics = append(cc.Diagnostics, Diagnostic{
						Severity: SeverityWarning,
						File:     unit.Path,
						Line:     int(n.Pos().Line()),
						Col:      int(n.Pos().Col()),
						Message:  "use of eval defeats static checks",
					})
					return true
				}
				if name != "" {
					calls = append(calls, callSite{
						name: name,
						unit: unit.Path,
						line: int(n.Pos().Line()),
						col:  int(n.Pos().Col()),
					})
				}
			}
			return true
		})
	}

	// Functions may be declared after their call site or in another unit,
	// so the call check runs once the whole closure is known.
	available := closureFunctions(cc)
	for _, c := range calls {
		if available[c.name] || knownCommand(c.name) {
			continue
		}
		cc.Diagnostics = append(cc.Diagnostics, Diagnostic{
			Severity: SeverityWarning,
			File:     c.unit,
			Line:     c.line,
			Col:      c.col,
			Message:  fmt.Sprintf("call to undefined function %q", c.name),
		})
	}
}

// closureFunctions returns the functions defined by cc and by every
// project in its reference closure.
func closureFunctions(cc *Context) map[string]bool {
	funcs := DeclaredFunctions(cc)

	seen := map[string]bool{cc.Project.Name: true}
	var walk func(c *Context)
	walk = func(c *Context) {
		for _, ref := range c.ProjectReferences() {
			dep := ref.Context
			if seen[dep.Project.Name] {
				continue
			}
			seen[dep.Project.Name] = true
			for name := range DeclaredFunctions(dep) {
				funcs[name] = true
			}
			walk(dep)
		}
	}
	walk(cc)
	return funcs
}

// knownCommand reports whether name resolves outside the function set: a
// shell builtin, the resource command, an explicit path, or a program on
// PATH.
func knownCommand(name string) bool {
	if interp.IsBuiltin(name) || name == ResourceCommand {
		return true
	}
	if strings.Contains(name, "/") {
		return true
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// DeclaredFunctions returns the function names defined across a context's
// parsed units. The lint pass aggregates these over the dependency closure
// to decide which call targets are defined.
func DeclaredFunctions(cc *Context) map[string]bool {
	funcs := make(map[string]bool)
	for _, unit := range cc.Units {
		if unit.Prog == nil {
			continue
		}
		syntax.Walk(unit.Prog, func(node syntax.Node) bool {
			if fd, ok := node.(*syntax.FuncDecl); ok {
				funcs[fd.Name.Value] = true
			}
			return true
		})
	}
	return funcs
}
