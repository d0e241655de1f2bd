package schema

import "github.com/stoewer/go-strcase"

// toSnake lowercases a class name into its default collection stem before
// pluralisation, matching the teacher's table-naming convention.
func toSnake(className string) string {
	return strcase.SnakeCase(className)
}
