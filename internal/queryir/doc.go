// Package queryir decodes corpus query documents into a typed AST and
// resolves the labels the compiler refers to.
//
// The AST is made of sealed interfaces using the marker method pattern:
// Node for query items and their members, Operand for comparison sides and
// Result for requested result sets. Compilers switch exhaustively over
// the variants.
//
// Decoding is tolerant of the spellings generated and hand-written
// documents use (see Decode). Resolve then walks the query once to label
// every referenceable node and to record, per label, its layer, its
// effective containment and whether it is bound.
//
// Errors are *CompileError values carrying one of the ErrCode constants,
// so callers can branch on the category with IsCode.
package queryir
