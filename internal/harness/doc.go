// Package harness runs compile scenarios: YAML files pairing a query with a
// corpus descriptor and the properties the compiled SQL must have.
//
// # Scenario Format
//
//	name: plain_dog
//	description: "A single constrained token in its segment"
//	corpus: ../corpora/mini.json
//	schema: schema
//	batch: token0
//	query:
//	  query:
//	    - unit: {layer: Token, label: t, constraints: [...]}
//	  results:
//	    - resultsPlain: {context: [s], entities: [t]}
//	assertions:
//	  - type: sql_contains
//	    text: "t.form = 'dog'"
//	  - type: ctes
//	    names: [fixed_parts, match_list, res1, res0]
//	golden: true
//
// The query is given inline (YAML or a JSON string) or through query_file.
// Paths are relative to the scenario file. A scenario that sets error
// expects the compile to fail with that code instead.
//
// # Assertion Types
//
//   - sql_contains / sql_not_contains: a fragment of the statement
//   - sql_order: fragments appear in the given order
//   - ctes: the exact CTE names, in order
//   - result_sets: the result set types, in order
//   - post_process: "attribute comparator value" filter of a result
//
// # Golden Files
//
// Scenarios with golden: true compare a snapshot of the compiled statement
// and its meta_json against testdata/golden/<name>.golden. Compilation is
// deterministic, so any change in the snapshot is a change in the
// generated SQL. Regenerate with:
//
//	go test ./internal/harness -update
package harness
