package msgdef

import "fmt"

// TypeNotFoundError indicates a message type was not present in a source.
type TypeNotFoundError struct {
	Type string
}

func (e TypeNotFoundError) Error() string {
	return fmt.Sprintf("message definition not found: %s", e.Type)
}

// UnresolvedDependencyError indicates the transitive closure of a type
// could not be completed. The caller decides whether the unresolved root is
// fatal (a plugin output schema) or merely skippable (an incidental input
// schema).
type UnresolvedDependencyError struct {
	Root       string
	Dependency string
}

func (e UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("cannot resolve %s: dependency %s not found in any source", e.Root, e.Dependency)
}

// FetchError indicates a definition archive could not be downloaded.
type FetchError struct {
	URL    string
	Reason string
}

func (e FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %s", e.URL, e.Reason)
}
