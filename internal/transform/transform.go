// Package transform normalizes an API Gateway flavoured OpenAPI document
// before upload: proprietary extensions are stripped, proxy constructs are
// expanded into concrete operations, and templated server URLs are inlined.
package transform

import (
	"regexp"
	"strings"
)

const (
	extensionPrefix   = "x-amazon-"
	anyMethodKey      = "x-amazon-apigateway-any-method"
	reservedTagPrefix = "aws:"
)

var httpMethods = map[string]struct{}{
	"get":     {},
	"put":     {},
	"post":    {},
	"delete":  {},
	"options": {},
	"head":    {},
	"patch":   {},
	"trace":   {},
}

var serverVariable = regexp.MustCompile(`\{([^{}]+)\}`)

// Apply returns a cleaned deep copy of doc. The input is never mutated and
// applying the transform twice yields the same result as applying it once.
func Apply(doc map[string]any) map[string]any {
	out, _ := deepCopy(doc).(map[string]any)
	if out == nil {
		return map[string]any{}
	}

	stripPrefixedKeys(out)
	filterTags(out)
	rewritePaths(out)
	rewriteServers(out)

	return out
}

// stripPrefixedKeys drops root-level vendor extensions.
func stripPrefixedKeys(doc map[string]any) {
	for key := range doc {
		if strings.HasPrefix(key, extensionPrefix) {
			delete(doc, key)
		}
	}
}

// filterTags removes tags whose name carries the reserved prefix.
func filterTags(doc map[string]any) {
	tags, ok := doc["tags"].([]any)
	if !ok {
		return
	}

	kept := make([]any, 0, len(tags))
	for _, tag := range tags {
		if entry, ok := tag.(map[string]any); ok {
			if name, ok := entry["name"].(string); ok && strings.HasPrefix(name, reservedTagPrefix) {
				continue
			}
		}
		kept = append(kept, tag)
	}
	doc["tags"] = kept
}

func rewritePaths(doc map[string]any) {
	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		return
	}

	for path, raw := range paths {
		item, ok := raw.(map[string]any)
		if !ok {
			delete(paths, path)
			continue
		}

		if proxy, ok := item[anyMethodKey].(map[string]any); ok {
			paths[path] = expandAnyMethod(proxy)
			continue
		}

		cleaned := cleanPathItem(item)
		if len(cleaned) == 0 {
			delete(paths, path)
			continue
		}
		paths[path] = cleaned
	}
}

// expandAnyMethod turns the catch-all proxy construct into one write and one
// read operation. The read side gains a free-form query parameter so the
// generated examples can carry an arbitrary downstream path.
func expandAnyMethod(proxy map[string]any) map[string]any {
	responses, ok := proxy["responses"].(map[string]any)
	if !ok || len(responses) == 0 {
		responses = defaultResponses()
	}

	post := map[string]any{
		"responses": responses,
	}
	get := map[string]any{
		"parameters": []any{
			map[string]any{
				"name":     "proxy",
				"in":       "query",
				"required": false,
				"schema":   map[string]any{"type": "string"},
			},
		},
		"responses": deepCopy(responses),
	}

	return map[string]any{"get": get, "post": post}
}

func defaultResponses() map[string]any {
	return map[string]any{
		"200": map[string]any{"description": "Success"},
		"500": map[string]any{"description": "Server error"},
	}
}

// cleanPathItem keeps only recognized HTTP methods, stripping vendor
// extensions from each operation. Everything else on the path item is
// dropped.
func cleanPathItem(item map[string]any) map[string]any {
	cleaned := map[string]any{}
	for key, raw := range item {
		if _, known := httpMethods[key]; !known {
			continue
		}
		op, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cleaned[key] = cleanOperation(op)
	}
	return cleaned
}

func cleanOperation(op map[string]any) map[string]any {
	for key := range op {
		if strings.HasPrefix(key, extensionPrefix) {
			delete(op, key)
		}
	}

	params, ok := op["parameters"].([]any)
	if !ok {
		return op
	}
	for _, raw := range params {
		param, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for key := range param {
			if strings.HasPrefix(key, extensionPrefix) {
				delete(param, key)
			}
		}
	}
	return op
}

// rewriteServers inlines the default value of a single-variable URL template
// such as https://host/{basePath}.
func rewriteServers(doc map[string]any) {
	servers, ok := doc["servers"].([]any)
	if !ok {
		return
	}

	for _, raw := range servers {
		server, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		url, ok := server["url"].(string)
		if !ok {
			continue
		}

		matches := serverVariable.FindAllStringSubmatch(url, -1)
		if len(matches) != 1 {
			continue
		}
		name := matches[0][1]

		variables, ok := server["variables"].(map[string]any)
		if !ok {
			continue
		}
		variable, ok := variables[name].(map[string]any)
		if !ok {
			continue
		}
		value, ok := variable["default"].(string)
		if !ok {
			continue
		}

		// Defaults usually carry a leading slash; collapse the boundary so
		// host/{basePath} with "/prod" yields host/prod, not host//prod.
		placeholder := "{" + name + "}"
		if strings.HasPrefix(value, "/") && strings.Contains(url, "/"+placeholder) {
			server["url"] = strings.Replace(url, "/"+placeholder, value, 1)
		} else {
			server["url"] = strings.Replace(url, placeholder, value, 1)
		}
		delete(variables, name)
		if len(variables) == 0 {
			delete(server, "variables")
		}
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(v))
		for key, child := range v {
			copied[key] = deepCopy(child)
		}
		return copied
	case []any:
		copied := make([]any, len(v))
		for i, child := range v {
			copied[i] = deepCopy(child)
		}
		return copied
	default:
		return v
	}
}
