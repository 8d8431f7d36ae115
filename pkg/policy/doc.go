// Package policy compiles and evaluates work order policy expressions.
//
// A policy is a boolean expression over named rule collections:
//
//	wifi and (charging or urgent) and not (roaming)
//
// The grammar knows the operators and, or and not, parentheses, and the
// literals true() and false(). "or" binds looser than "and", both are left
// associative, and not requires a parenthesized operand. Operators match
// lowercase only. Any other atom is a rule name resolved at compile time
// against a Rules implementation; names with no collection evaluate to false.
//
// # Architecture
//
//  1. Tokenizer - splits the policy text and re-merges atoms containing parentheses
//  2. Parser - recursive descent into PolicyExpression, LogicalExpression and NegateExpression
//  3. Policy - the compiled, immutable tree for one policy string
//  4. Rule collections - Rego (OPA) and Starlark evaluators plus built-ins
//  5. Registry and Loader - hot-swappable name lookup fed from rule directories
//
// # Usage
//
//	registry := policy.NewRegistry(logger)
//	loader := policy.NewLoader(logger)
//	if err := loader.LoadInto(ctx, registry, []string{"/etc/froyo/rules"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := policy.Compile("wifi and not-expired", registry)
//	if err != nil {
//	    var perr *policy.ParseError
//	    if errors.As(err, &perr) {
//	        fmt.Println(perr.Reason)
//	    }
//	}
//	allowed := p.Evaluate(workOrder)
//
// # Rule Files
//
// The loader reads three formats:
//
//   - .rego - a module defining allow, named after the file
//   - .star - a Starlark script defining evaluate(input), named after the file
//   - .json - a RuleDefinition, or a RuleBundle with a rules array
//
// A JSON rule with conditions compiles to:
//
//	package froyo.rules.<name>
//
//	import rego.v1
//
//	default allow := false
//
//	allow if {
//	    <condition 1>
//	    <condition 2>
//	}
//
// # Built-in Rules
//
//  1. free-space - candidate storage holds the remaining bytes
//  2. function-group - candidate storage serves the function_group label
//  3. not-expired - expiration unset or in the future
//  4. mandatory - work order is flagged mandatory
//  5. urgent - work order is flagged urgent
//
// # Hot Reload
//
// Policies compiled against a Registry hold handles, not collections, so a
// reload through Loader.WatchInto is observed by already compiled policies.
package policy
