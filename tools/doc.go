// Package tools converts external tool declarations into validated,
// invokable tools and dispatches calls to them.
//
// A Declaration's parameters are mapped onto the Field union (string,
// number, integer, boolean, array, enum, any). Types the converter does not
// understand degrade to AnyField so one odd parameter never disables a tool.
// Declared names are normalized to snake_case dispatch keys with Normalize.
//
// Registry.Execute is total: unknown tools, bad arguments, handler errors
// and handler panics are all reported as a failure-shaped Result.
//
//	reg := tools.NewRegistry(tools.WithLogger(logger))
//	reg.Register(tools.Convert(decls, handlers.Lookup)...)
//	res := reg.Execute(ctx, "resource_search", json.RawMessage(`{"query":"cells"}`))
package tools
