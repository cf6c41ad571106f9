package msgdef

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bagtools/remux/internal/codec"
	"github.com/bagtools/remux/internal/logger"
)

const sectionSeparator = "================================================================================"

// Resolver builds self-contained definition texts: the root .msg body
// followed by one delimited section per transitively referenced type, the
// concatenated form schema records carry on the wire.
type Resolver struct {
	sources []Source
	store   Store
	prefix  string
	log     zerolog.Logger
}

// NewResolver returns a resolver over the given sources, tried in order.
// The store may be nil; prefix namespaces cache keys (typically the distro)
// so caches built against different source sets do not collide.
func NewResolver(sources []Source, store Store, prefix string) *Resolver {
	if store == nil {
		store = NopStore{}
	}
	return &Resolver{
		sources: sources,
		store:   store,
		prefix:  prefix,
		log:     logger.WithComponent("msgdef"),
	}
}

// Resolve returns the concatenated definition for typeName. The result
// parses cleanly with codec.ParseDefinition: every complex type the root
// reaches appears exactly once, even when referenced along several paths.
func (r *Resolver) Resolve(typeName string) (string, error) {
	canonical := codec.CanonicalName(typeName)
	cacheKey := r.prefix + "|" + canonical

	if cached, ok, err := r.store.Get(cacheKey); err != nil {
		r.log.Warn().Err(err).Str("type", canonical).Msg("definition cache read failed")
	} else if ok {
		return cached, nil
	}

	text, err := r.resolveClosure(canonical)
	if err != nil {
		return "", err
	}
	if err := r.store.Put(cacheKey, text); err != nil {
		r.log.Warn().Err(err).Str("type", canonical).Msg("definition cache write failed")
	}
	return text, nil
}

func (r *Resolver) resolveClosure(root string) (string, error) {
	rootBody, err := r.find(root)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(rootBody, "\n"))

	visited := map[string]bool{root: true}
	queue, err := r.dependencies(root, rootBody)
	if err != nil {
		return "", err
	}

	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if visited[dep] {
			continue
		}
		visited[dep] = true

		body, err := r.find(dep)
		if err != nil {
			var notFound TypeNotFoundError
			if errors.As(err, &notFound) {
				return "", UnresolvedDependencyError{Root: root, Dependency: dep}
			}
			return "", err
		}
		sb.WriteString("\n")
		sb.WriteString(sectionSeparator)
		sb.WriteString("\nMSG: ")
		sb.WriteString(dep)
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(body, "\n"))

		more, err := r.dependencies(dep, body)
		if err != nil {
			return "", err
		}
		queue = append(queue, more...)
	}

	sb.WriteString("\n")
	return sb.String(), nil
}

func (r *Resolver) find(typeName string) (string, error) {
	var lastErr error
	for _, src := range r.sources {
		body, err := src.Find(typeName)
		if err == nil {
			return body, nil
		}
		var notFound TypeNotFoundError
		if !errors.As(err, &notFound) {
			return "", err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = TypeNotFoundError{Type: typeName}
	}
	return "", lastErr
}

func (r *Resolver) dependencies(typeName, body string) ([]string, error) {
	pkg, name := splitTypeName(typeName)
	_, deps, err := codec.ParseMessageString(pkg, name, body, false)
	if err != nil {
		return nil, err
	}
	return deps, nil
}

func splitTypeName(typeName string) (pkg, name string) {
	parts := strings.Split(typeName, "/")
	return parts[0], parts[len(parts)-1]
}
